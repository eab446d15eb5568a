/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Demian Kellermann, Jonas Plum
 */

package volume

import (
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	vssHeaderOffset     = 0x1e00
	vssCatalogBlockSize = 0x4000
	vssMaxCatalogBlocks = 64

	vssEntryStore     = 2
	vssEntryStoreInfo = 3
)

// vssIdentifier is the GUID {3808876b-c176-4e48-b7ae-04046e6cc752} a VSS
// volume header starts with.
var vssIdentifier = []byte{0x6b, 0x87, 0x08, 0x38, 0x76, 0xc1, 0x48, 0x4e, 0xb7, 0xae, 0x04, 0x04, 0x6e, 0x6c, 0xc7, 0x52}

func hasShadowCopies(r io.ReaderAt) bool {
	b := make([]byte, len(vssIdentifier))
	if _, err := r.ReadAt(b, vssHeaderOffset); err != nil {
		return false
	}
	return bytes.Equal(b, vssIdentifier)
}

// shadowStores returns the store GUIDs of the VSS catalog.
func (n *ntfsFS) shadowStores() (stores []string, err error) {
	defer recoverParser(&err)
	n.mu.Lock()
	defer n.mu.Unlock()

	profile := n.ctx.Profile
	header := profile.VSS_VOLUME_HEADER(n.reader, vssHeaderOffset)
	catalogOffset := header.CatalogOffset()
	for blocks := 0; catalogOffset > 0 && blocks < vssMaxCatalogBlocks; blocks++ {
		catalog := profile.VSS_CATALOG_HEADER(n.reader, catalogOffset)

		offset := int64(catalog.Offset) + int64(catalog.Size())
		end := int64(catalog.Offset) + vssCatalogBlockSize
		for offset < end {
			entry := profile.VSS_CATALOG_ENTRY_1(n.reader, offset)
			switch entry.EntryType() {
			case vssEntryStore:
				store := profile.VSS_CATALOG_ENTRY_2(n.reader, offset)
				stores = append(stores, store.StoreGUID().AsString())
				offset += int64(store.Size())
			case vssEntryStoreInfo:
				offset += int64(profile.VSS_CATALOG_ENTRY_3(n.reader, offset).Size())
			default:
				offset += int64(entry.Size())
			}
		}

		next := catalog.NextOffset()
		if next == catalogOffset {
			break
		}
		catalogOffset = next
	}
	return stores, nil
}

// shadowMounts reports the shadow copies of a NTFS partition as VSHADOW
// partitions without a filesystem.
func shadowMounts(id string, fs *ntfsFS, r io.ReaderAt, logger *zap.Logger) []Mount {
	if !hasShadowCopies(r) {
		return nil
	}
	stores, err := fs.shadowStores()
	if err != nil {
		logger.Warn("could not read shadow copy catalog", zap.String("partition", id), zap.Error(err))
		return nil
	}
	logger.Info("found shadow copies", zap.String("partition", id), zap.Int("stores", len(stores)))
	return shadowPartitions(id, stores)
}

func shadowPartitions(id string, stores []string) []Mount {
	var mounts []Mount
	for i := range stores {
		mounts = append(mounts, Mount{Partition: Partition{ID: fmt.Sprintf("%s-vss%d", id, i+1), Type: TypeVSHADOW}})
	}
	return mounts
}
