package broker

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Offsets is the (logEndOffset, readOffset) pair tracked by both the ingress
// buffer and every partition (spec §3's uniform offset semantics).
type Offsets struct {
	LogEndOffset uint64
	ReadOffset   uint64
}

// Validate enforces the invariant logEndOffset >= readOffset (spec §3, §4.3,
// §4.4): violation is fatal at startup.
func (o Offsets) Validate() error {
	if o.LogEndOffset < o.ReadOffset {
		return newErr(KindBufferBuildFailed, errors.Errorf(
			"logEndOffset %d < readOffset %d", o.LogEndOffset, o.ReadOffset))
	}
	return nil
}

const ingressMetadataTag = "ingress"

// EnsureIngressMetadata creates path seeded with "ingress|0|0" if it does
// not already exist (spec §4.3 recovery step 1).
func EnsureIngressMetadata(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return newErr(KindBufferBuildFailed, err)
	}
	return WriteIngressMetadata(path, Offsets{})
}

// ReadIngressMetadata parses the single metadata line. It requires exactly
// three '|'-separated fields and the literal leading token "ingress" (spec
// §4.3 recovery step 2); anything else is a fatal, malformed-metadata error.
func ReadIngressMetadata(path string) (Offsets, error) {
	f, err := os.Open(path)
	if err != nil {
		return Offsets{}, newErr(KindBufferBuildFailed, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return Offsets{}, newErr(KindMalformedMetadata, errors.New("ingress metadata file is empty"))
	}
	line := scanner.Text()
	fields := strings.Split(line, "|")
	if len(fields) != 3 {
		return Offsets{}, newErr(KindMalformedMetadata, errors.Errorf("expected 3 fields, got %d: %q", len(fields), line))
	}
	if fields[0] != ingressMetadataTag {
		return Offsets{}, newErr(KindMalformedMetadata, errors.Errorf("expected leading token %q, got %q", ingressMetadataTag, fields[0]))
	}
	logEnd, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Offsets{}, newErr(KindMalformedMetadata, errors.Wrap(err, "parse logEndOffset"))
	}
	read, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Offsets{}, newErr(KindMalformedMetadata, errors.Wrap(err, "parse readOffset"))
	}
	return Offsets{LogEndOffset: logEnd, ReadOffset: read}, nil
}

// WriteIngressMetadata fully rewrites the single-line ingress metadata file.
// This is a plain truncate+write, not a temp-file-plus-rename: spec §9 notes
// this is a known non-atomicity in the reference behaviour.
func WriteIngressMetadata(path string, o Offsets) error {
	line := ingressMetadataTag + "|" + strconv.FormatUint(o.LogEndOffset, 10) + "|" + strconv.FormatUint(o.ReadOffset, 10) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return newErr(KindAppendFailed, err)
	}
	return nil
}

// PartitionMetaKey is the line-identifying prefix used in the shared
// per-topic partition metadata file: "{topicId}_partition_{partitionId}".
func PartitionMetaKey(topicID string, partitionID uint32) string {
	return topicID + "_partition_" + strconv.FormatUint(uint64(partitionID), 10)
}

// EnsurePartitionMetadataFile creates an empty metadata file if absent;
// individual partition lines are appended lazily on first write.
func EnsurePartitionMetadataFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return newErr(KindBufferBuildFailed, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return newErr(KindBufferBuildFailed, err)
	}
	return f.Close()
}

// ReadPartitionMetadata scans path for the line keyed by key and parses its
// offsets. found is false if no such line exists yet (a fresh partition).
func ReadPartitionMetadata(path, key string) (o Offsets, found bool, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		return Offsets{}, false, newErr(KindBufferBuildFailed, ferr)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 3 {
			return Offsets{}, false, newErr(KindMalformedMetadata, errors.Errorf("expected 3 fields, got %d: %q", len(fields), line))
		}
		if fields[0] != key {
			continue
		}
		logEnd, perr := strconv.ParseUint(fields[1], 10, 64)
		if perr != nil {
			return Offsets{}, false, newErr(KindMalformedMetadata, errors.Wrap(perr, "parse logEndOffset"))
		}
		read, perr := strconv.ParseUint(fields[2], 10, 64)
		if perr != nil {
			return Offsets{}, false, newErr(KindMalformedMetadata, errors.Wrap(perr, "parse readOffset"))
		}
		return Offsets{LogEndOffset: logEnd, ReadOffset: read}, true, nil
	}
	if err := scanner.Err(); err != nil {
		return Offsets{}, false, newErr(KindBufferBuildFailed, err)
	}
	return Offsets{}, false, nil
}

// WritePartitionMetadataLine rewrites only the line keyed by key, appending
// it if it does not yet exist (spec §4.4: "Updates target only the matching
// line; missing lines are appended"). The file as a whole is still read and
// rewritten in full to perform this, since lines vary in width; only the
// logical targeting is line-scoped, not the physical write.
func WritePartitionMetadataLine(path, key string, o Offsets) error {
	f, err := os.Open(path)
	if err != nil {
		return newErr(KindBufferBuildFailed, err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	replaced := false
	newLine := key + "|" + strconv.FormatUint(o.LogEndOffset, 10) + "|" + strconv.FormatUint(o.ReadOffset, 10)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, key+"|") {
			lines = append(lines, newLine)
			replaced = true
			continue
		}
		lines = append(lines, line)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return newErr(KindBufferBuildFailed, scanErr)
	}
	if !replaced {
		lines = append(lines, newLine)
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return newErr(KindAppendFailed, err)
	}
	return nil
}
