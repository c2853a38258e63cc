package services

import "context"

// WorkspaceGuard answers whether a user may upload into a workspace.
// Membership data lives outside this service; deployments inject their own
// implementation.
type WorkspaceGuard interface {
	CanUpload(ctx context.Context, userID uint, workspaceID uint) error
}

type allowAllGuard struct{}

func (allowAllGuard) CanUpload(context.Context, uint, uint) error { return nil }

func NewAllowAllGuard() WorkspaceGuard {
	return allowAllGuard{}
}
