package services

import (
	"skyvault/config"
	"skyvault/repositories"
	"skyvault/storage"
)

type Container struct {
	Upload  UploadService
	Cleanup *CleanupService
}

func NewContainer(repos repositories.Container, blobs storage.BlobStore, guard WorkspaceGuard) *Container {
	if guard == nil {
		guard = NewAllowAllGuard()
	}
	return &Container{
		Upload:  NewUploadService(repos.TxManager, repos.Files, repos.Activities, repos.Registry, blobs, guard),
		Cleanup: NewCleanupService(blobs, repos.Registry, config.AppConfig.Upload.TempCleanupInterval),
	}
}
