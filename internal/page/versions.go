package page

import (
	"image"

	"github.com/disintegration/imaging"
)

// Version buffer slots.
const (
	SlotBackup   = 0 // snapshot from another pipeline stage, written once per external reset
	SlotSaved    = 1 // last externally sourced or saved bitmap
	SlotPrevious = 2 // previous restoration result
	SlotLatest   = 3 // latest restoration result
	numSlots     = 4
)

// VersionBuffer is the bounded four-slot history of a page bitmap.
// A nil slot is empty.
type VersionBuffer struct {
	slots [numSlots]*image.NRGBA
}

// Slot returns the bitmap in slot i, or nil when empty or out of range.
func (v *VersionBuffer) Slot(i int) *image.NRGBA {
	if i < 0 || i >= numSlots {
		return nil
	}
	return v.slots[i]
}

// Empty reports whether slot i holds nothing.
func (v *VersionBuffer) Empty(i int) bool { return v.Slot(i) == nil }

// reset seeds slots 0 and 1 from src and clears the intermediates.
func (v *VersionBuffer) reset(src *image.NRGBA) {
	v.slots[SlotBackup] = imaging.Clone(src)
	v.slots[SlotSaved] = imaging.Clone(src)
	v.clearIntermediate()
}

// rotate records a restoration result: the latest moves to previous (when
// present) and result becomes the latest.
func (v *VersionBuffer) rotate(result *image.NRGBA) {
	if v.slots[SlotLatest] != nil {
		v.slots[SlotPrevious] = v.slots[SlotLatest]
	}
	v.slots[SlotLatest] = result
}

// stepBack drops the latest result and returns the bitmap that should become
// current: the previous result, or the saved bitmap when there is none.
func (v *VersionBuffer) stepBack() (*image.NRGBA, bool) {
	if v.slots[SlotLatest] == nil {
		return nil, false
	}
	prev := v.slots[SlotPrevious]
	v.slots[SlotLatest] = prev
	v.slots[SlotPrevious] = nil
	if prev != nil {
		return prev, true
	}
	return v.slots[SlotSaved], true
}

func (v *VersionBuffer) markSaved(current *image.NRGBA) {
	v.slots[SlotSaved] = imaging.Clone(current)
	v.clearIntermediate()
}

func (v *VersionBuffer) clearIntermediate() {
	v.slots[SlotPrevious] = nil
	v.slots[SlotLatest] = nil
}
