// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package factory

import (
	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/glacier"
)

func init() {
	RegisterArchiver("glacier", func(settings map[string]string) (common.Archiver, error) {
		archiver := glacier.New()
		if err := archiver.Configure(settings); err != nil {
			return nil, err
		}
		return archiver, nil
	})
}
