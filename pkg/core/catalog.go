package core

import "context"

// MetadataCatalog keeps one bookkeeping row per indexed resource.
// Rows are not tied to the fingerprint index: deleting one never cascades.
type MetadataCatalog struct {
	backend Backend
	logger  Logger
}

// NewMetadataCatalog creates a catalog over the given backend
func NewMetadataCatalog(backend Backend, logger Logger) *MetadataCatalog {
	return &MetadataCatalog{
		backend: backend,
		logger:  loggerOrNop(logger),
	}
}

// Upsert replaces the whole row for resourceID (last writer wins)
func (c *MetadataCatalog) Upsert(ctx context.Context, resourceID uint32, path string, duration float32, numFingerprints int32) error {
	m := ResourceMetadata{
		ResourceID:      resourceID,
		Path:            path,
		Duration:        duration,
		NumFingerprints: numFingerprints,
	}
	if err := c.backend.UpsertMetadata(ctx, m); err != nil {
		return wrapError("upsert_metadata", err)
	}
	return nil
}

// Get returns the row for resourceID. A missing row is reported with
// ok == false and a nil error.
func (c *MetadataCatalog) Get(ctx context.Context, resourceID uint32) (m ResourceMetadata, ok bool, err error) {
	m, ok, err = c.backend.GetMetadata(ctx, resourceID)
	if err != nil {
		return ResourceMetadata{}, false, wrapError("get_metadata", err)
	}
	return m, ok, nil
}

// Delete removes the row for resourceID; deleting a missing row is a no-op
func (c *MetadataCatalog) Delete(ctx context.Context, resourceID uint32) error {
	if err := c.backend.DeleteMetadata(ctx, resourceID); err != nil {
		return wrapError("delete_metadata", err)
	}
	return nil
}

// List returns all rows in ascending resource id order
func (c *MetadataCatalog) List(ctx context.Context) ([]ResourceMetadata, error) {
	var out []ResourceMetadata
	err := c.backend.ScanMetadata(ctx, func(m ResourceMetadata) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, wrapError("list_metadata", err)
	}
	return out, nil
}

// Clear irreversibly empties the catalog
func (c *MetadataCatalog) Clear(ctx context.Context) error {
	if err := c.backend.ClearMetadata(ctx); err != nil {
		return wrapError("clear_metadata", err)
	}
	c.logger.Info("metadata catalog cleared")
	return nil
}
