package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/visadesk/internal/model"
	"github.com/hitoshi/visadesk/internal/repository"
)

// Service はアクセストークンから CallerIdentity を解決する。
type Service struct {
	verifier *TokenVerifier
	userRepo repository.UserRepository
}

// NewService はServiceを生成する。
// userRepoを指定した場合はユーザーの存在を確認し、ロールはusersテーブルの値を採用する。
// nilの場合はトークンのroleクレームをそのまま使う。
func NewService(verifier *TokenVerifier, userRepo repository.UserRepository) *Service {
	return &Service{
		verifier: verifier,
		userRepo: userRepo,
	}
}

// Resolve はトークンを検証して呼び出し元を返す。
// 資格情報に起因する失敗は UNAUTHENTICATED の APIError、ストア障害はラップしたエラーを返す。
func (s *Service) Resolve(ctx context.Context, token string) (model.CallerIdentity, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		slog.Debug("token verification failed", slog.String("error", err.Error()))
		return model.CallerIdentity{}, model.NewUnauthenticatedError()
	}

	caller := model.CallerIdentity{
		UserID: claims.CallerID(),
		Role:   model.Role(claims.Role),
	}

	if s.userRepo != nil {
		user, err := s.userRepo.FindByID(ctx, caller.UserID)
		if err != nil {
			return model.CallerIdentity{}, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			slog.Warn("token subject not found", slog.String("user_id", caller.UserID))
			return model.CallerIdentity{}, model.NewUnauthenticatedError()
		}
		caller.Role = user.Role
	}

	if caller.Role == "" {
		caller.Role = model.RoleUser
	}
	if !caller.Authenticated() {
		return model.CallerIdentity{}, model.NewUnauthenticatedError()
	}
	return caller, nil
}
