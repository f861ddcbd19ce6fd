// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package glacier

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsglacier "github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
)

type fakeClient struct {
	uploads map[string][]byte
}

func (f *fakeClient) UploadArchive(ctx context.Context, params *awsglacier.UploadArchiveInput, optFns ...func(*awsglacier.Options)) (*awsglacier.UploadArchiveOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[aws.ToString(params.ArchiveDescription)] = data
	return &awsglacier.UploadArchiveOutput{ArchiveId: aws.String("arch-1")}, nil
}

func TestConfigureRequiresVault(t *testing.T) {
	g := New()
	assert.ErrorIs(t, g.Configure(map[string]string{}), common.ErrVaultNotSet)
}

func TestPutUploadsArchive(t *testing.T) {
	fc := &fakeClient{}
	g := NewWithClient(fc, "grandfather-vault")

	require.NoError(t, g.Put("backup/criticality=Critico/backup_type=full/generation=grandfather/obj", strings.NewReader("payload")))
	assert.Equal(t, []byte("payload"), fc.uploads["backup/criticality=Critico/backup_type=full/generation=grandfather/obj"])
}

func TestPutRequiresConfiguration(t *testing.T) {
	g := New()
	assert.ErrorIs(t, g.Put("k", strings.NewReader("x")), common.ErrNotConfigured)
}
