package gpuworker

import "encoding/binary"

// ReconstructBlob rebuilds the exact bytes of the modifiable message region
// [modStart, modEnd) that the kernel implicitly hashed, given the compact
// (id, idx, idx2) tuple and the shared randomization r it reported. This is
// the host-side mirror of the per-work-item transform the kernel applies to
// the base message in four word positions; it must match the
// kernel's own arithmetic exactly; any divergence surfaces as a rejected
// claim, not a silent loss, since the coordinator re-hashes locally before
// submitting.
//
// messageBase must be exactly messageLen bytes, little-endian throughout.
func ReconstructBlob(messageBase []byte, modStart, modEnd int, id, idx, idx2 uint32, r [3]uint32) []byte {
	out := make([]byte, modEnd-modStart)
	copy(out, messageBase[modStart:modEnd])

	for i := 0; i+wordLen <= len(messageBase); i += wordLen {
		if i < modStart || i+wordLen > modEnd {
			continue
		}

		wordIdx := i / wordLen
		val := binary.LittleEndian.Uint32(messageBase[i : i+wordLen])

		if wordIdx == blobOffsetWords+int((id+r[0])%uint32(blobFastLenWords)) {
			val += id + idx*4
		}

		if wordIdx == blobOffsetWords+int((id+r[1]+uint32(blobFastLenWords)/4)%uint32(blobFastLenWords)) {
			val ^= (id << 16) | id
		}

		if wordIdx == blobOffsetWords+blobFastLenWords {
			val += (id << 16) + idx - r[2]
		}

		if wordIdx == counterIndexWords {
			val += (idx2 >> 2) + (idx2 << 24) + (idx << 12)
		}

		binary.LittleEndian.PutUint32(out[i-modStart:i-modStart+wordLen], val)
	}

	return out
}

// numZerosToWord2Mask derives the bitmask applied to the kernel's second
// 32-bit digest word, encoding how many of its leading hex nibbles must be
// zero in addition to the first word (which the kernel always requires to
// be entirely zero). Odd zero counts also mask the high nibble of the
// mask's top byte. Undefined (returns 0, i.e. no additional constraint) for nz < 8, since the
// kernel's first-word requirement already covers difficulties below 8.
func numZerosToWord2Mask(nz int) uint32 {
	if nz < 8 {
		return 0
	}

	evenNZ := nz - (nz % 2)
	evenBits := uint32(evenNZ-8) * 4
	evenMask := (uint32(1) << evenBits) - 1

	if nz%2 == 0 {
		return evenMask
	}
	return evenMask | (uint32(0xF0) << evenBits)
}
