package firefox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/tabgrouper/internal/types"
)

// mozlz4 header: 8-byte magic "mozLz40\x00"
var mozLz4Magic = []byte("mozLz40\x00")

// DecompressMozLz4 decompresses data in Mozilla's mozlz4 format: the magic,
// a 4-byte little-endian uncompressed size, then one lz4 block.
func DecompressMozLz4(data []byte) ([]byte, error) {
	const headerSize = 12

	if len(data) < headerSize {
		return nil, fmt.Errorf("mozlz4: data too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(mozLz4Magic)], mozLz4Magic) {
		return nil, fmt.Errorf("mozlz4: invalid header magic")
	}

	dst := make([]byte, binary.LittleEndian.Uint32(data[8:12]))
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("mozlz4: decompress failed: %w", err)
	}
	return dst[:n], nil
}

type rawEntry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type rawTab struct {
	Entries      []rawEntry `json:"entries"`
	Index        int        `json:"index"`
	LastAccessed int64      `json:"lastAccessed"`
	Image        string     `json:"image"`
	Group        string     `json:"groupId"`
}

type rawGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rawWindow struct {
	Tabs   []rawTab   `json:"tabs"`
	Groups []rawGroup `json:"groups"`
}

type rawSession struct {
	Windows []rawWindow `json:"windows"`
}

// SessionGroup is one Firefox tab group. Ungrouped is set on the group
// collecting tabs that belong to no group.
type SessionGroup struct {
	Name      string
	Ungrouped bool
	Tabs      []types.TabRef
}

// Session is a parsed session file: its groups in window order, each
// window's ungrouped tabs after its named groups.
type Session struct {
	Groups []*SessionGroup
}

// TabCount returns the number of tabs across all groups.
func (s *Session) TabCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Tabs)
	}
	return n
}

// ParseSession parses decompressed session JSON.
func ParseSession(data []byte) (*Session, error) {
	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse session JSON: %w", err)
	}

	s := &Session{}
	for _, window := range raw.Windows {
		byID := make(map[string]*SessionGroup, len(window.Groups))
		for _, rg := range window.Groups {
			g := &SessionGroup{Name: rg.Name}
			byID[rg.ID] = g
			s.Groups = append(s.Groups, g)
		}
		ungrouped := &SessionGroup{Ungrouped: true}

		for _, rt := range window.Tabs {
			if len(rt.Entries) == 0 {
				continue
			}
			// index is 1-based; the current page is entries[index-1].
			i := rt.Index - 1
			if i < 0 || i >= len(rt.Entries) {
				i = len(rt.Entries) - 1
			}
			entry := rt.Entries[i]

			tab := types.TabRef{
				URL:     entry.URL,
				Title:   entry.Title,
				Favicon: rt.Image,
			}
			if rt.LastAccessed > 0 {
				tab.AddedAt = types.Millis(time.UnixMilli(rt.LastAccessed))
			}

			if g, ok := byID[rt.Group]; ok && rt.Group != "" {
				g.Tabs = append(g.Tabs, tab)
			} else {
				ungrouped.Tabs = append(ungrouped.Tabs, tab)
			}
		}

		if len(ungrouped.Tabs) > 0 {
			s.Groups = append(s.Groups, ungrouped)
		}
	}
	return s, nil
}

// ReadSessionFile reads the session of a profile directory, preferring the
// running session (recovery.jsonlz4) over the last closed one.
func ReadSessionFile(profileDir string) (*Session, error) {
	backupDir := filepath.Join(profileDir, "sessionstore-backups")
	var (
		data []byte
		err  error
	)
	for _, name := range sessionFiles {
		data, err = os.ReadFile(filepath.Join(backupDir, name))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no session file found in %s", backupDir)
	}

	decompressed, err := DecompressMozLz4(data)
	if err != nil {
		return nil, fmt.Errorf("decompress session file: %w", err)
	}
	return ParseSession(decompressed)
}
