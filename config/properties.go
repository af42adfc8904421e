package config

// Properties-style files: "key = value" lines with #-comments. Used for
// the transfer-capability map (SOP class -> comma-separated transfer
// syntaxes) and the related-SOP-classes list.

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadProperties parses a properties file into an ordered-insensitive map.
func LoadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		sep := strings.IndexAny(line, "=:")
		if sep < 0 {
			return nil, fmt.Errorf("%s:%d: no separator in %q", path, lineNo, line)
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			return nil, fmt.Errorf("%s:%d: empty key", path, lineNo)
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

// LoadTransferCapabilities reads a properties file mapping SOP class UID to
// a comma-separated transfer syntax list, the shape consumed by the
// association acceptor.
func LoadTransferCapabilities(path string) (map[string][]string, error) {
	props, err := LoadProperties(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(props))
	for cuid, list := range props {
		var tsuids []string
		for _, ts := range strings.Split(list, ",") {
			ts = strings.TrimSpace(ts)
			if ts != "" {
				tsuids = append(tsuids, ts)
			}
		}
		out[cuid] = tsuids
	}
	return out, nil
}

// LoadRelatedSOPClasses reads a properties file mapping SOP class UID to
// "serviceClassUID:related1,related2", the shape consumed by common
// extended negotiation.
func LoadRelatedSOPClasses(path string) (map[string]RelatedSOPClasses, error) {
	props, err := LoadProperties(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]RelatedSOPClasses, len(props))
	for cuid, value := range props {
		entry := RelatedSOPClasses{}
		serviceAndRelated := strings.SplitN(value, ":", 2)
		entry.ServiceClassUID = strings.TrimSpace(serviceAndRelated[0])
		if len(serviceAndRelated) > 1 {
			for _, related := range strings.Split(serviceAndRelated[1], ",") {
				related = strings.TrimSpace(related)
				if related != "" {
					entry.RelatedGeneralSOPClassUIDs = append(entry.RelatedGeneralSOPClassUIDs, related)
				}
			}
		}
		out[cuid] = entry
	}
	return out, nil
}

// RelatedSOPClasses is one common-extended-negotiation row.
type RelatedSOPClasses struct {
	ServiceClassUID            string
	RelatedGeneralSOPClassUIDs []string
}
