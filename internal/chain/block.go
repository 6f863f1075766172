package chain

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Block is a finalized block as the host applies it.
type Block struct {
	Num          uint32        `json:"num" yaml:"num"`
	Timestamp    time.Time     `json:"timestamp" yaml:"timestamp"`
	Transactions []Transaction `json:"transactions" yaml:"transactions"`
}

// Transaction is an ordered list of operations.
type Transaction struct {
	Operations []Envelope `json:"operations" yaml:"operations"`
}

// LoadBlocks reads a block log. Files ending in .yaml or .yml hold a YAML
// sequence of blocks; anything else is read as JSON Lines, one block per line.
func LoadBlocks(path string) ([]Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block log: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeBlocksYAML(bytes.NewReader(data))
	default:
		return DecodeBlocksJSONL(bytes.NewReader(data))
	}
}

// DecodeBlocksYAML decodes a YAML sequence of blocks. Unknown fields are
// rejected.
func DecodeBlocksYAML(r io.Reader) ([]Block, error) {
	var blocks []Block
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&blocks); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return blocks, nil
}

// DecodeBlocksJSONL decodes one JSON block per line. Blank lines are skipped.
func DecodeBlocksJSONL(r io.Reader) ([]Block, error) {
	var blocks []Block

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var b Block
		if err := json.Unmarshal(text, &b); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read block log: %w", err)
	}
	return blocks, nil
}

// EncodeBlocksJSONL writes blocks one per line.
func EncodeBlocksJSONL(w io.Writer, blocks []Block) error {
	enc := json.NewEncoder(w)
	for _, b := range blocks {
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("encode block %d: %w", b.Num, err)
		}
	}
	return nil
}
