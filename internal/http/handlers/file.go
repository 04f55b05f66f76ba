package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/convertarr/internal/service"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// FileHandler handles listing and deleting uploads and outputs.
type FileHandler struct {
	svc *service.ConversionService
}

// NewFileHandler creates a new file handler.
func NewFileHandler(svc *service.ConversionService) *FileHandler {
	return &FileHandler{svc: svc}
}

// Register registers the file routes with the API.
func (h *FileHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listFiles",
		Method:      http.MethodGet,
		Path:        "/api/v1/files/{kind}",
		Summary:     "List files",
		Description: "Lists uploaded sources or converted outputs, most recently modified first",
		Tags:        []string{"Files"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteFile",
		Method:        http.MethodDelete,
		Path:          "/api/v1/files/{kind}/{id}",
		Summary:       "Delete file",
		Description:   "Deletes every file in the directory whose name starts with the ID",
		Tags:          []string{"Files"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// ListFilesInput is the input for listing files.
type ListFilesInput struct {
	Kind string `path:"kind" enum:"uploads,outputs" doc:"Directory to list"`
}

// ListFilesOutput is the output for listing files.
type ListFilesOutput struct {
	Body struct {
		Files []FileResponse `json:"files"`
	}
}

// List returns the files in a managed directory.
func (h *FileHandler) List(_ context.Context, input *ListFilesInput) (*ListFilesOutput, error) {
	kind, err := storage.ParseKind(input.Kind)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	files, err := h.svc.ListFiles(kind)
	if err != nil {
		return nil, apiError("failed to list files", err)
	}

	resp := &ListFilesOutput{}
	resp.Body.Files = make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp.Body.Files = append(resp.Body.Files, FileFromStorage(kind, f))
	}
	return resp, nil
}

// DeleteFileInput is the input for deleting a file.
type DeleteFileInput struct {
	Kind string `path:"kind" enum:"uploads,outputs" doc:"Directory to delete from"`
	ID   string `path:"id" doc:"File ID" minLength:"1" maxLength:"255"`
}

// DeleteFileOutput is the output for deleting a file.
type DeleteFileOutput struct{}

// Delete removes a file.
func (h *FileHandler) Delete(_ context.Context, input *DeleteFileInput) (*DeleteFileOutput, error) {
	kind, err := storage.ParseKind(input.Kind)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if _, err := h.svc.DeleteFile(kind, input.ID); err != nil {
		return nil, apiError("failed to delete file", err)
	}
	return &DeleteFileOutput{}, nil
}
