// Package azurestore implements objectstore.Store on top of Azure Blob
// Storage, adopted from ethereum-go-ethereum's go.mod
// (azure-sdk-for-go/sdk/storage/azblob) per spec.md §6's
// storage.azure_container configuration.
package azurestore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore"
)

// Store implements objectstore.Store against one Azure Blob container.
type Store struct {
	client        *azblob.Client
	containerName string
}

func New(client *azblob.Client, containerName string) *Store {
	return &Store{client: client, containerName: containerName}
}

func (s *Store) CreateBucket(ctx context.Context, name string) error {
	_, err := s.client.CreateContainer(ctx, name, nil)
	if err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return dnaerr.Wrapf(err, dnaerr.Transient, "azurestore: create container %q", name)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, opts objectstore.PutOptions) (objectstore.ETag, error) {
	accessConditions := &blob.AccessConditions{
		ModifiedAccessConditions: &blob.ModifiedAccessConditions{},
	}
	if opts.IfNoneMatch == "*" {
		wildcard := azblob.ETagAny
		accessConditions.ModifiedAccessConditions.IfNoneMatch = &wildcard
	}
	if opts.IfMatch != "" {
		match := blob.ETag(opts.IfMatch)
		accessConditions.ModifiedAccessConditions.IfMatch = &match
	}

	out, err := s.client.UploadBuffer(ctx, s.containerName, key, data, &azblob.UploadBufferOptions{
		AccessConditions: accessConditions,
	})
	if err != nil {
		if isPreconditionFailure(err) {
			return "", dnaerr.Wrapf(err, dnaerr.Precondition, "azurestore: conditional put failed for %q", key)
		}
		return "", dnaerr.Wrapf(err, dnaerr.Transient, "azurestore: put %q", key)
	}
	return objectstore.ETag(string(*out.ETag)), nil
}

func (s *Store) Get(ctx context.Context, key string, opts objectstore.GetOptions) (objectstore.Object, error) {
	downloadOpts := &azblob.DownloadStreamOptions{}
	if opts.IfNoneMatch != "" {
		noneMatch := blob.ETag(opts.IfNoneMatch)
		downloadOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: &noneMatch,
			},
		}
	}

	resp, err := s.client.DownloadStream(ctx, s.containerName, key, downloadOpts)
	if err != nil {
		if isNotFound(err) {
			return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.NotFound, "azurestore: key %q not found", key)
		}
		if isNotModified(err) {
			return objectstore.Object{}, objectstore.ErrNotModified
		}
		return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.Transient, "azurestore: get %q", key)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.Transient, "azurestore: read body of %q", key)
	}
	return objectstore.Object{ETag: objectstore.ETag(string(*resp.ETag)), Data: data}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, key, nil)
	if err != nil {
		if isNotFound(err) {
			return dnaerr.Wrapf(err, dnaerr.NotFound, "azurestore: key %q not found", key)
		}
		return dnaerr.Wrapf(err, dnaerr.Transient, "azurestore: delete %q", key)
	}
	return nil
}

func isPreconditionFailure(err error) bool {
	return bytes.Contains([]byte(errString(err)), []byte("ConditionNotMet")) ||
		bytes.Contains([]byte(errString(err)), []byte("PreconditionFailed"))
}

func isNotModified(err error) bool {
	return bytes.Contains([]byte(errString(err)), []byte("ConditionNotMet")) &&
		bytes.Contains([]byte(errString(err)), []byte("304"))
}

func isNotFound(err error) bool {
	return bytes.Contains([]byte(errString(err)), []byte("BlobNotFound"))
}

func isAlreadyExists(err error) bool {
	return bytes.Contains([]byte(errString(err)), []byte("ContainerAlreadyExists"))
}

func errString(err error) string {
	var unwrapped error = err
	for unwrapped != nil {
		s := unwrapped.Error()
		if s != "" {
			return s
		}
		unwrapped = errors.Unwrap(unwrapped)
	}
	return ""
}
