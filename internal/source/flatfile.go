package source

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/quanteast/marketsync/internal/schema"
)

// FlatFiles serves work units from gzipped CSV objects on an S3-compatible
// endpoint, the distribution format several market-data vendors use for
// bulk daily files. The object key is derived from the unit ID and the
// configured prefix: <prefix>/<unit id>.csv.gz.
//
// An object the server does not have (404/403) is treated as "no data for
// this unit", not as a fetch error: vendors publish flat files with a lag
// and gaps are routine.
type FlatFiles struct {
	client *minio.Client
	bucket string
	prefix string
}

// FlatFileConfig configures a flat-file source.
type FlatFileConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// NewFlatFiles creates a flat-file source against an S3-compatible endpoint.
func NewFlatFiles(cfg FlatFileConfig) (*FlatFiles, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &FlatFiles{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Fetch implements DataSource.
func (s *FlatFiles) Fetch(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
	key := path.Join(s.prefix, unit.ID+".csv.gz")

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to request object %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy: a missing object surfaces on the first read,
	// which for a gzipped body is gzip.NewReader.
	gz, err := gzip.NewReader(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.StatusCode == 403 || resp.StatusCode == 404) {
			return &schema.Batch{}, nil
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer gz.Close()

	return readCSV(gz, key)
}
