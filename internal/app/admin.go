package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/fleeting/internal/domain"
)

// PurgeTarget selects what an unconditional purge removes.
type PurgeTarget string

// Purge targets accepted by the operator surface.
const (
	PurgeImages PurgeTarget = "images"
	PurgeTokens PurgeTarget = "tokens"
	PurgeAll    PurgeTarget = "all"
)

// ParsePurgeTarget validates s as a PurgeTarget.
func ParsePurgeTarget(s string) (PurgeTarget, error) {
	switch t := PurgeTarget(strings.ToLower(strings.TrimSpace(s))); t {
	case PurgeImages, PurgeTokens, PurgeAll:
		return t, nil
	}
	return "", fmt.Errorf("%w: purge target must be images, tokens or all", domain.ErrInvalidArgument)
}

// PurgeReport counts what a purge removed.
type PurgeReport struct {
	Files       int
	BlobRows    int
	Credentials int
}

// Admin implements operator commands over blobs. Credential commands live on
// CredentialService.
type Admin struct {
	Store MetadataStore
	Blobs BlobStore
}

// ListBlobs returns every blob record, expired or not, in insertion order.
func (a *Admin) ListBlobs(ctx context.Context) ([]BlobRecord, error) {
	recs, err := a.Store.ListBlobs(ctx)
	if err != nil {
		return nil, storeErr("list blobs", err)
	}
	return recs, nil
}

// RemoveBlob deletes the bytes and then the record of blob id. If the bytes
// cannot be deleted the record is kept.
func (a *Admin) RemoveBlob(ctx context.Context, id int64) error {
	rec, err := a.Store.BlobByID(ctx, id)
	if err != nil {
		return storeErr("lookup blob", err)
	}
	if err := a.Blobs.Delete(rec.StorageName); err != nil {
		return fmt.Errorf("%w: delete blob bytes: %v", domain.ErrStorageUnavailable, err)
	}
	if err := a.Store.DeleteBlob(ctx, id); err != nil {
		return storeErr("delete blob record", err)
	}
	return nil
}

// Purge removes everything selected by target, ignoring expiry. Blob bytes
// go before blob rows; any bytes that survive a failed delete become orphans
// for the next reap pass.
func (a *Admin) Purge(ctx context.Context, target PurgeTarget) (PurgeReport, error) {
	var (
		rep  PurgeReport
		errs []error
	)
	target, err := ParsePurgeTarget(string(target))
	if err != nil {
		return rep, err
	}
	if target == PurgeImages || target == PurgeAll {
		infos, err := a.Blobs.List()
		if err != nil {
			errs = append(errs, fmt.Errorf("list blobs: %w", err))
		}
		for _, info := range infos {
			if err := a.Blobs.Delete(info.Name); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", info.Name, err))
				continue
			}
			rep.Files++
		}
		n, err := a.Store.DeleteAllBlobs(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete blob rows: %w", err))
		}
		rep.BlobRows = n
	}
	if target == PurgeTokens || target == PurgeAll {
		n, err := a.Store.DeleteAllCredentials(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete credentials: %w", err))
		}
		rep.Credentials = n
	}
	if len(errs) > 0 {
		return rep, errors.Join(errs...)
	}
	return rep, nil
}
