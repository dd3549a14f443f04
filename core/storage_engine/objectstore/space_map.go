package objectstore

import (
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// SpaceMapSpan is the number of pages described by one space-map page. Every
// page whose number is a multiple of SpaceMapSpan is a space-map page holding
// one big-endian uint16 per following page: the bytes used in that object
// page, or 0 when it was never initialized.
const SpaceMapSpan = pagemanager.PageSize / 2

func isSpaceMapPage(id pagemanager.PageID) bool { return id%SpaceMapSpan == 0 }

func spaceMapPageFor(id pagemanager.PageID) pagemanager.PageID { return id - id%SpaceMapSpan }

func spaceMapOffset(id pagemanager.PageID) int { return int(id%SpaceMapSpan) * 2 }

// freeBytes converts a space-map entry to the free space of the page.
func freeBytes(used uint16) int {
	if used < pageHeaderSize {
		return pagemanager.PageSize - pageHeaderSize
	}
	return pagemanager.PageSize - int(used)
}
