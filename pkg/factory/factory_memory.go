// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package factory

import (
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/memory"
)

func init() {
	RegisterStorage("memory", func(settings map[string]string) (common.Storage, error) {
		storage := memory.New()
		if err := storage.Configure(settings); err != nil {
			return nil, err
		}
		return storage, nil
	})

	// The memory backend doubles as an archive destination in tests and
	// local development.
	RegisterArchiver("memory", func(settings map[string]string) (common.Archiver, error) {
		storage := memory.New()
		if err := storage.Configure(settings); err != nil {
			return nil, err
		}
		return storage, nil
	})
}
