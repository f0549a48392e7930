package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// ExportRow is the parquet layout of one exported trade.
type ExportRow struct {
	ID           string `parquet:"name=id, type=UTF8"`
	Seq          int64  `parquet:"name=seq, type=INT64"`
	Nonce        int64  `parquet:"name=nonce, type=INT64"`
	Asset        string `parquet:"name=asset, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Trader       string `parquet:"name=trader, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Side         string `parquet:"name=side, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Input        int64  `parquet:"name=input, type=INT64"`
	Output       int64  `parquet:"name=output, type=INT64"`
	Fee          int64  `parquet:"name=fee, type=INT64"`
	VirtualBase  int64  `parquet:"name=virtual_base, type=INT64"`
	VirtualToken int64  `parquet:"name=virtual_token, type=INT64"`
	RealBase     int64  `parquet:"name=real_base, type=INT64"`
	RealToken    int64  `parquet:"name=real_token, type=INT64"`
	Timestamp    string `parquet:"name=timestamp, type=UTF8"`
}

const exportBatch = 1_000

// WriteParquet streams every trade of the asset, oldest first, as a
// snappy-compressed parquet file. It returns the number of rows written.
func (i *Index) WriteParquet(w io.Writer, asset common.Address) (int, error) {
	return i.writeParquet(writerfile.NewWriterFile(w), asset)
}

// ArchivePath returns the file a graduated curve's trades are archived to.
func ArchivePath(dir string, asset common.Address) string {
	return filepath.Join(dir, strings.ToLower(asset.Hex())+".parquet")
}

// Archive writes the asset's trades to ArchivePath under the configured
// archive directory. It is a no-op when no directory is set.
func (i *Index) Archive(asset common.Address) (string, int, error) {
	dir := i.archiveDir()
	if dir == "" {
		return "", 0, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("index: archive dir: %w", err)
	}
	path := ArchivePath(dir, asset)
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return "", 0, fmt.Errorf("index: archive create: %w", err)
	}
	written, err := i.writeParquet(fw, asset)
	if closeErr := fw.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("index: archive close: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", written, err
	}
	return path, written, nil
}

func (i *Index) writeParquet(fw source.ParquetFile, asset common.Address) (int, error) {
	pw, err := writer.NewParquetWriter(fw, new(ExportRow), 1)
	if err != nil {
		return 0, fmt.Errorf("index: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	var lastSeq uint64
	for {
		var rows []Trade
		err := i.db.Where("asset = ? AND seq > ?", asset.Hex(), lastSeq).
			Order("seq ASC").Limit(exportBatch).Find(&rows).Error
		if err != nil {
			pw.WriteStop()
			return written, fmt.Errorf("index: export query: %w", err)
		}
		for _, row := range rows {
			if err := pw.Write(toParquet(row)); err != nil {
				pw.WriteStop()
				return written, fmt.Errorf("index: parquet write: %w", err)
			}
			written++
			lastSeq = row.Seq
		}
		if len(rows) < exportBatch {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		return written, fmt.Errorf("index: parquet flush: %w", err)
	}
	return written, nil
}

func toParquet(row Trade) *ExportRow {
	return &ExportRow{
		ID:           row.ID.String(),
		Seq:          int64(row.Seq),
		Nonce:        int64(row.Nonce),
		Asset:        row.Asset,
		Trader:       row.Trader,
		Side:         row.Side,
		Input:        int64(row.Input),
		Output:       int64(row.Output),
		Fee:          int64(row.Fee),
		VirtualBase:  int64(row.VirtualBase),
		VirtualToken: int64(row.VirtualToken),
		RealBase:     int64(row.RealBase),
		RealToken:    int64(row.RealToken),
		Timestamp:    time.Unix(row.Timestamp, 0).UTC().Format(time.RFC3339),
	}
}
