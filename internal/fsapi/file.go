package fsapi

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/pathsafe"
)

type fileContentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) resolveFileTarget(c *fiber.Ctx) (root, real string, err error) {
	root, err = h.resolveRoot(c)
	if err != nil {
		return "", "", err
	}
	rel := c.Query("path")
	if rel == "" {
		return "", "", apperror.New(apperror.KindUnsafePath, "missing path")
	}
	real, err = pathsafe.ResolveFilePath(root, rel)
	return root, real, err
}

func (h *Handler) handleFileGet(c *fiber.Ctx) error {
	_, real, err := h.resolveFileTarget(c)
	if err != nil {
		return writeError(c, err)
	}
	if pathsafe.IsBinaryByExtension(real) {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "binary files cannot be read as text"))
	}

	info, err := os.Stat(real)
	if err != nil {
		return writeError(c, apperror.New(apperror.KindNotFound, "file not found"))
	}
	if info.IsDir() {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "path is a directory"))
	}
	if info.Size() > h.cfg.MaxFileSizeBytes {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "file exceeds maximum size"))
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to read file", err))
	}
	return c.JSON(fileContentRequest{Content: string(data)})
}

func (h *Handler) handleFilePut(c *fiber.Ctx) error {
	_, real, err := h.resolveFileTarget(c)
	if err != nil {
		return writeError(c, err)
	}
	if pathsafe.IsBinaryByExtension(real) {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "binary files cannot be written as text"))
	}

	var body fileContentRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "invalid request body"))
	}
	if int64(len(body.Content)) > h.cfg.MaxFileSizeBytes {
		return writeError(c, apperror.New(apperror.KindUnsafePath, "content exceeds maximum size"))
	}

	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to create parent directory", err))
	}
	if err := os.WriteFile(real, []byte(body.Content), 0o644); err != nil {
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to write file", err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) handleFileDelete(c *fiber.Ctx) error {
	_, real, err := h.resolveFileTarget(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := os.Remove(real); err != nil {
		if os.IsNotExist(err) {
			return writeError(c, apperror.New(apperror.KindNotFound, "file not found"))
		}
		return writeError(c, apperror.Wrap(apperror.KindTransient, "failed to delete file", err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
