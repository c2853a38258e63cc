package handlers

import (
	"net/http"
	"strconv"

	"skyvault/services"
	"skyvault/utils"

	"github.com/gin-gonic/gin"
)

// UploadChunk accepts one chunk of a chunked upload as multipart form data.
func UploadChunk(c *gin.Context) {
	userID := c.GetUint("user_id")

	fileID := c.PostForm("file_id")
	chunkIndex, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid chunk_index")
		return
	}
	totalChunks, err := strconv.Atoi(c.PostForm("total_chunks"))
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid total_chunks")
		return
	}
	workspaceID, _ := strconv.ParseUint(c.DefaultPostForm("workspace_id", "0"), 10, 32)
	folderID, _ := strconv.ParseUint(c.DefaultPostForm("folder_id", "0"), 10, 32)

	chunk, _, err := c.Request.FormFile("chunk")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "missing chunk body")
		return
	}
	defer chunk.Close()

	out, err := getServices().Upload.ReceiveChunk(c.Request.Context(), userID, services.ReceiveChunkInput{
		FileID:      fileID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		WorkspaceID: uint(workspaceID),
		FolderID:    uint(folderID),
		Chunk:       chunk,
	})
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}

// CompleteUpload verifies all chunks are present and materializes the file.
func CompleteUpload(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		FileID      string `json:"file_id" binding:"required"`
		FileName    string `json:"file_name" binding:"required"`
		FileSize    int64  `json:"file_size" binding:"required"`
		MimeType    string `json:"mime_type"`
		TotalChunks int    `json:"total_chunks" binding:"required"`
		WorkspaceID uint   `json:"workspace_id"`
		FolderID    uint   `json:"folder_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid completion request: "+err.Error())
		return
	}

	file, err := getServices().Upload.CompleteUpload(c.Request.Context(), userID, services.CompleteUploadInput{
		FileID:      req.FileID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
		TotalChunks: req.TotalChunks,
		WorkspaceID: req.WorkspaceID,
		FolderID:    req.FolderID,
	})
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, gin.H{"file": file})
}

// GetUploadStatus returns the acknowledged chunk index set for an upload.
func GetUploadStatus(c *gin.Context) {
	userID := c.GetUint("user_id")
	fileID := c.Param("file_id")

	out, err := getServices().Upload.GetUploadStatus(c.Request.Context(), userID, fileID)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}

// CancelUpload removes an upload's temp chunks and registry entry.
func CancelUpload(c *gin.Context) {
	userID := c.GetUint("user_id")
	fileID := c.Param("file_id")

	if err := getServices().Upload.CancelUpload(c.Request.Context(), userID, fileID); respondServiceError(c, err) {
		return
	}
	utils.Success(c, gin.H{"file_id": fileID, "cancelled": true})
}

// UploadFile is the single-request path for small files.
func UploadFile(c *gin.Context) {
	userID := c.GetUint("user_id")
	workspaceID, _ := strconv.ParseUint(c.DefaultPostForm("workspace_id", "0"), 10, 32)
	folderID, _ := strconv.ParseUint(c.DefaultPostForm("folder_id", "0"), 10, 32)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, "missing file body")
		return
	}
	defer file.Close()

	record, err := getServices().Upload.UploadDirect(c.Request.Context(), userID, uint(workspaceID), uint(folderID), file, header)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, record)
}
