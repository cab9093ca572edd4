//go:build !darwin && !linux

package keyring

import "context"

// nullStore is used on platforms without a supported secure store. Reads
// report absence so credential resolution can fall through to other sources.
type nullStore struct{}

func newPlatformStore() SecretStore { return &nullStore{} }

func (s *nullStore) Get(ctx context.Context, service string, allowPrompt bool) (string, error) {
	return "", notFoundErr(service)
}

func (s *nullStore) Set(ctx context.Context, service, value string) error {
	return storeErr(service, "unsupported_platform", nil)
}

func (s *nullStore) Delete(ctx context.Context, service string) error {
	return nil
}

func (s *nullStore) Preflight(ctx context.Context, service string) PreflightResult {
	return PreflightNotFound
}
