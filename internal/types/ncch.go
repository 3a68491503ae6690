// Package types implements data structures for the Nintendo 3DS NCCH
// container format. Layouts follow the on-cartridge format: every
// multi-byte field is little-endian unless noted otherwise.
package types

// Magic tags found at offset 0x100 of their respective headers.
const (
	// NCCHMagic identifies a partition container ("NCCH").
	NCCHMagic = "NCCH"
	// NCSDMagic identifies an outer disc container ("NCSD") wrapping one or
	// more partitions. Only the first (bootable) partition is loaded.
	NCSDMagic = "NCSD"
)

const (
	// NCCHHeaderSize is the fixed size of an NCCH header in bytes.
	NCCHHeaderSize = 0x200
	// NCCHBlockSize is the unit for region offset/size fields in the header.
	NCCHBlockSize = 0x200
	// NCCHSignatureSize is the size of the leading RSA signature block. The
	// first 16 bytes double as KeyY seed material for key derivation.
	NCCHSignatureSize = 0x100
	// NCSDFirstPartitionOffset is the byte offset of the bootable partition
	// inside a disc container.
	NCSDFirstPartitionOffset = 0x4000
)

// NCCH header flag indices and bits.
const (
	// FlagCryptoMethod indexes the secondary crypto-method byte in Flags.
	FlagCryptoMethod = 3
	// FlagBitmasks indexes the bitmask flag byte in Flags.
	FlagBitmasks = 7

	// FlagFixedCryptoKey marks containers encrypted with the all-zero key.
	FlagFixedCryptoKey = 0x01
	// FlagSeedCrypto marks containers using seed crypto, which is not
	// supported and must be rejected.
	FlagSeedCrypto = 0x20
)

// NCCHHeader mirrors the 0x200-byte partition container header.
type NCCHHeader struct {
	// Signature holds the leading 0x100 signature bytes. Signature[:16] is
	// consumed as KeyY seed material when the container is encrypted.
	Signature [NCCHSignatureSize]byte
	// Magic must equal NCCHMagic.
	Magic [4]byte
	// ContentSize is the container size in media blocks.
	ContentSize uint32
	// PartitionID seeds the AES counter; kept in raw byte order because the
	// two counter layouts consume it in opposite directions.
	PartitionID [8]byte
	MakerCode   uint16
	// Version selects the counter layout: 0 and 2 use region tags, 1 uses
	// big-endian region offsets. All other values are rejected.
	Version uint16
	// ProgramID is the title identifier; the extended header embeds a copy
	// whose equality after decryption proves the derived keys correct.
	ProgramID   uint64
	ProductCode [0x10]byte
	// ExtendedHeaderSize is the declared size of the extended header region.
	ExtendedHeaderSize uint32
	// Flags holds eight flag bytes; see the Flag* constants.
	Flags [8]byte
	// Region offsets and sizes, all in NCCHBlockSize units.
	PlainOffset uint32
	PlainSize   uint32
	LogoOffset  uint32
	LogoSize    uint32
	ExeFSOffset uint32
	ExeFSSize   uint32
	RomFSOffset uint32
	RomFSSize   uint32
}

// PartitionIDValue returns the partition identifier as a little-endian
// integer, the order it is printed in tooling.
func (h *NCCHHeader) PartitionIDValue() uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(h.PartitionID[i])
	}
	return v
}

// IsFixedKey reports whether the container uses the documented all-zero
// fixed-key mode.
func (h *NCCHHeader) IsFixedKey() bool {
	return h.Flags[FlagBitmasks]&FlagFixedCryptoKey != 0
}

// IsSeedCrypto reports whether the container requests seed crypto.
func (h *NCCHHeader) IsSeedCrypto() bool {
	return h.Flags[FlagBitmasks]&FlagSeedCrypto != 0
}

// CryptoMethod returns the secondary crypto-method byte selecting the
// code-section key slot.
func (h *NCCHHeader) CryptoMethod() uint8 {
	return h.Flags[FlagCryptoMethod]
}
