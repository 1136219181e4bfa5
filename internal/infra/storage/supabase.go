// Package storage archives recorded turn audio in object storage.
package storage

import (
	"bytes"
	"fmt"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig selects the project and bucket turns are archived to.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Enabled reports whether enough is configured to upload.
func (c SupabaseConfig) Enabled() bool {
	return c.URL != "" && c.ServiceRoleKey != "" && c.Bucket != ""
}

// SupabaseStorage implements Uploader using Supabase Storage.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStorage(cfg SupabaseConfig) (*SupabaseStorage, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_BUCKET required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores data under key, replacing any existing object.
func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	upsert := true
	opts := storage_go.FileOptions{ContentType: &contentType, Upsert: &upsert}
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("upload to supabase: %w", err)
	}
	return nil
}
