package storage

import (
	"context"
	"io"
)

// BlobStore define el contrato de almacenamiento para archivos subidos.
// Save devuelve el nombre con el que quedó guardado el archivo.
type BlobStore interface {
	Save(ctx context.Context, filename string, contentType string, content io.Reader) (string, error)
}
