// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package glacier provides an archive-only backend for AWS Glacier,
// used as the grandfather tier destination.
package glacier

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glacier"

	"github.com/gfsbak/gfsbak/pkg/common"
)

// Client is the subset of the Glacier API used by this backend.
type Client interface {
	UploadArchive(ctx context.Context, params *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
}

// Glacier is an archive-only storage backend for AWS Glacier.
type Glacier struct {
	svc       Client
	vaultName string
}

// New creates a new Glacier storage backend.
func New() *Glacier {
	return &Glacier{}
}

// NewWithClient creates a backend bound to an existing client.
func NewWithClient(client Client, vaultName string) *Glacier {
	return &Glacier{svc: client, vaultName: vaultName}
}

// Configure sets up the backend. Required settings:
//   - vaultName: Glacier vault to upload archives into
//
// Optional settings:
//   - region: AWS region
func (g *Glacier) Configure(settings map[string]string) error {
	g.vaultName = settings["vaultName"]
	if g.vaultName == "" {
		return common.ErrVaultNotSet
	}

	ctx := context.TODO()
	var opts []func(*config.LoadOptions) error

	if region := settings["region"]; region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}

	g.svc = glacier.NewFromConfig(cfg)
	return nil
}

// Put stores an object in the archive.
func (g *Glacier) Put(key string, data io.Reader) error {
	if g.svc == nil {
		return common.ErrNotConfigured
	}

	// Glacier requires the content length up front, so buffer the payload.
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	_, err = g.svc.UploadArchive(context.TODO(), &glacier.UploadArchiveInput{
		VaultName:          aws.String(g.vaultName),
		ArchiveDescription: aws.String(key),
		Body:               bytes.NewReader(buf),
	})
	return err
}
