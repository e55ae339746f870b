package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const markerSuffix = ".ready"

// FileMedium 共享文件系统上的标记文件介质
// 文件名 <session>.<phase>.<party>.ready，内容为 JSON 编码的 Token
type FileMedium struct {
	dir string
}

// NewFileMedium 创建文件介质，dir 为空时使用系统临时目录
func NewFileMedium(dir string) (*FileMedium, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create rendezvous dir %s", dir)
	}
	return &FileMedium{dir: dir}, nil
}

// Dir 标记文件所在目录
func (f *FileMedium) Dir() string {
	return f.dir
}

func (f *FileMedium) path(sessionID, phase, party string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s.%s.%s%s", sessionID, phase, party, markerSuffix))
}

// Publish 先写临时文件再硬链接到目标名，目标已存在时视为已发布
func (f *FileMedium) Publish(_ context.Context, token Token) error {
	if err := validateToken(token); err != nil {
		return err
	}

	target := f.path(token.SessionID, token.Phase, token.PartyName)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return errors.Wrap(err, "failed to marshal readiness token")
	}

	tmp, err := os.CreateTemp(f.dir, ".token-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp marker")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp marker")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp marker")
	}

	if err := os.Link(tmpName, target); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrapf(err, "failed to publish marker %s", target)
	}
	return nil
}

// Lookup 读取标记文件
func (f *FileMedium) Lookup(_ context.Context, sessionID, phase, party string) (*Token, error) {
	data, err := os.ReadFile(f.path(sessionID, phase, party))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read marker")
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal marker")
	}
	return &t, nil
}

// Delete 删除标记文件
func (f *FileMedium) Delete(_ context.Context, sessionID, phase, party string) error {
	if err := os.Remove(f.path(sessionID, phase, party)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove marker")
	}
	return nil
}

// List 列出会话下的标记文件
func (f *FileMedium) List(ctx context.Context, sessionID string) ([]Token, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rendezvous dir %s", f.dir)
	}

	var out []Token
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, sessionID+".") || !strings.HasSuffix(name, markerSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				// 读取期间被其他参与方删除
				continue
			}
			return nil, errors.Wrap(err, "failed to read marker")
		}
		var t Token
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal marker %s", name)
		}
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sortTokens(out)
	return out, nil
}

func validateToken(t Token) error {
	for field, v := range map[string]string{"session id": t.SessionID, "phase": t.Phase, "party name": t.PartyName} {
		if v == "" {
			return errors.Errorf("readiness token has empty %s", field)
		}
		if strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
			return errors.Errorf("readiness token %s %q contains path characters", field, v)
		}
	}
	return nil
}
