package organizer

import (
	"crypto/subtle"

	"github.com/ingather/ingather-backend/internal/platform/config"
)

// DefaultOrganizerID 是未配置任何主办方时所有活动的归属
const DefaultOrganizerID = "default"

// Identity 是一个主办方，活动按 ID 归属
type Identity struct {
	ID      string
	Name    string
	LogoURL string
}

type directoryEntry struct {
	key      []byte
	identity Identity
}

// Directory 把主办方API密钥解析为主办方身份。
// 没有配置任何主办方时处于开放模式，所有调用方都是默认主办方。
type Directory struct {
	entries []directoryEntry
}

func NewDirectory(organizers []config.OrganizerConfig) *Directory {
	d := &Directory{entries: make([]directoryEntry, 0, len(organizers))}
	for _, o := range organizers {
		d.entries = append(d.entries, directoryEntry{
			key:      []byte(o.APIKey),
			identity: Identity{ID: o.ID, Name: o.Name, LogoURL: o.LogoURL},
		})
	}
	return d
}

// Open 报告是否处于开放模式
func (d *Directory) Open() bool {
	return len(d.entries) == 0
}

// Resolve 返回密钥对应的主办方。所有条目都会比较一遍，耗时与命中位置无关。
func (d *Directory) Resolve(key string) (Identity, bool) {
	if d.Open() {
		return Identity{ID: DefaultOrganizerID}, true
	}
	var (
		found Identity
		ok    bool
	)
	given := []byte(key)
	for _, e := range d.entries {
		if subtle.ConstantTimeCompare(given, e.key) == 1 {
			found, ok = e.identity, true
		}
	}
	return found, ok
}
