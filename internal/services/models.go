package services

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/crypto"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// SegmentInfo summarizes one code segment for reporting.
type SegmentInfo struct {
	Address  string `json:"address" yaml:"address"`
	NumPages uint32 `json:"num_pages" yaml:"num_pages"`
	Size     uint32 `json:"size" yaml:"size"`
}

// SectionInfo summarizes one ExeFS section descriptor for reporting.
type SectionInfo struct {
	Name   string `json:"name" yaml:"name"`
	Offset uint32 `json:"offset" yaml:"offset"`
	Size   uint32 `json:"size" yaml:"size"`
}

// ContainerInfo is the report produced for CLI output.
type ContainerInfo struct {
	ProgramID   string `json:"program_id" yaml:"program_id"`
	PartitionID string `json:"partition_id" yaml:"partition_id"`
	ProductCode string `json:"product_code" yaml:"product_code"`
	Version     uint16 `json:"version" yaml:"version"`

	Encrypted    bool   `json:"encrypted" yaml:"encrypted"`
	FixedKey     bool   `json:"fixed_key" yaml:"fixed_key"`
	CryptoMethod string `json:"crypto_method" yaml:"crypto_method"`

	ProcessName           string `json:"process_name" yaml:"process_name"`
	EntryPoint            string `json:"entry_point" yaml:"entry_point"`
	CodeCompressed        bool   `json:"code_compressed" yaml:"code_compressed"`
	StackSize             uint32 `json:"stack_size" yaml:"stack_size"`
	BSSSize               uint32 `json:"bss_size" yaml:"bss_size"`
	CoreVersion           uint32 `json:"core_version" yaml:"core_version"`
	Priority              uint8  `json:"priority" yaml:"priority"`
	SystemMode            uint8  `json:"system_mode" yaml:"system_mode"`
	IdealProcessor        uint8  `json:"ideal_processor" yaml:"ideal_processor"`
	ResourceLimitCategory uint8  `json:"resource_limit_category" yaml:"resource_limit_category"`

	Text SegmentInfo `json:"text" yaml:"text"`
	RO   SegmentInfo `json:"ro" yaml:"ro"`
	Data SegmentInfo `json:"data" yaml:"data"`

	Sections []SectionInfo `json:"sections" yaml:"sections"`
	HasRomFS bool          `json:"has_romfs" yaml:"has_romfs"`
}

// Info loads the container headers and assembles a report.
func (l *Loader) Info() (*ContainerInfo, error) {
	if err := l.EnsureExeFSLoaded(); err != nil {
		return nil, err
	}

	header := l.header.Header()
	exh := l.exheader.ExHeader()

	info := &ContainerInfo{
		ProgramID:   fmt.Sprintf("%016X", header.ProgramID),
		PartitionID: fmt.Sprintf("%016X", header.PartitionIDValue()),
		ProductCode: string(bytes.TrimRight(header.ProductCode[:], "\x00")),
		Version:     header.Version,

		Encrypted:    l.contexts != nil,
		FixedKey:     header.IsFixedKey(),
		CryptoMethod: crypto.Method(header.CryptoMethod()).String(),

		ProcessName:           l.exheader.ProcessName(),
		EntryPoint:            fmt.Sprintf("0x%08X", exh.CodeSet.Text.Address),
		CodeCompressed:        exh.CodeSet.IsCodeCompressed(),
		StackSize:             exh.CodeSet.StackSize,
		BSSSize:               exh.CodeSet.BSSSize,
		CoreVersion:           exh.LocalCaps.CoreVersion,
		Priority:              exh.LocalCaps.Priority,
		SystemMode:            exh.LocalCaps.SystemMode(),
		IdealProcessor:        exh.LocalCaps.IdealProcessor(),
		ResourceLimitCategory: exh.LocalCaps.ResourceLimitCategory,

		Text: segmentInfo(exh.CodeSet.Text),
		RO:   segmentInfo(exh.CodeSet.RO),
		Data: segmentInfo(exh.CodeSet.Data),
	}

	for _, section := range l.exefs.Sections() {
		info.Sections = append(info.Sections, SectionInfo{
			Name:   string(bytes.TrimRight(section.Name[:], "\x00")),
			Offset: section.Offset,
			Size:   section.Size,
		})
	}

	if _, _, err := l.RomFS(); err == nil {
		info.HasRomFS = true
	} else if !errors.Is(err, types.ErrSectionNotPresent) {
		return nil, err
	}

	return info, nil
}

func segmentInfo(segment types.CodeSegmentInfo) SegmentInfo {
	return SegmentInfo{
		Address:  fmt.Sprintf("0x%08X", segment.Address),
		NumPages: segment.NumPages,
		Size:     segment.Size,
	}
}
