package adapter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/protosam/go-libnss/structs"
)

// ReadPasswd parses a passwd(5) file.
func ReadPasswd(path string) ([]structs.Passwd, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	return ParsePasswd(f)
}

// ParsePasswd skips comments and lines that do not have seven fields.
func ParsePasswd(r io.Reader) ([]structs.Passwd, error) {
	var entries []structs.Passwd

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			continue
		}

		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		gid, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			continue
		}

		entries = append(entries, structs.Passwd{
			Username: fields[0],
			Password: fields[1],
			UID:      uint(uid),
			GID:      uint(gid),
			Gecos:    fields[4],
			Dir:      fields[5],
			Shell:    fields[6],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan passwd: %w", err)
	}

	return entries, nil
}
