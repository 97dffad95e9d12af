package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/apperr"
	"sar/internal/model"
)

type mockS3Client struct {
	putObjectFunc func(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3Client) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putObjectFunc(ctx, input, opts...)
}

type sliceSource []model.AuditLogEntry

func (s sliceSource) AuditRange(_ context.Context, from, to time.Time, fn func(model.AuditLogEntry) error) error {
	for _, e := range s {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

var (
	july   = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	august = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
)

func entries() sliceSource {
	return sliceSource{
		{ID: 1, RequestID: "r1", UserName: "admin", Action: model.ActionLogin, Outcome: model.OutcomeSuccess, Timestamp: july.Add(time.Hour)},
		{ID: 2, RequestID: "r2", UserName: "admin", Action: model.ActionDelete, Outcome: model.OutcomeFailure, ErrorCode: "NOT_FOUND", Timestamp: july.Add(48 * time.Hour)},
		{ID: 3, RequestID: "r3", UserName: "viewer", Action: model.ActionView, Outcome: model.OutcomeSuccess, Timestamp: august},
	}
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func captureUpload(t *testing.T) (*mockS3Client, *s3.PutObjectInput, *[]byte) {
	t.Helper()
	var got s3.PutObjectInput
	var body []byte
	m := &mockS3Client{putObjectFunc: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		got = *in
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		body = b
		return &s3.PutObjectOutput{}, nil
	}}
	return m, &got, &body
}

func gunzip(t *testing.T, b []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestExportJSONL(t *testing.T) {
	up, in, body := captureUpload(t)
	e, err := NewExporter(entries(), up, "audit-bucket", "/sar/audit/", nullLogger())
	require.NoError(t, err)

	res, err := e.Export(context.Background(), july, august, FormatJSONL)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, "sar/audit/audit-20250701T000000Z-20250801T000000Z.jsonl.gz", res.Key)
	assert.Equal(t, "audit-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, res.Key, aws.ToString(in.Key))
	assert.Equal(t, "gzip", aws.ToString(in.ContentEncoding))
	assert.Equal(t, "2", in.Metadata["entries"])
	assert.Equal(t, int64(len(*body)), res.Bytes)

	lines := bytes.Split(bytes.TrimSpace(gunzip(t, *body)), []byte("\n"))
	require.Len(t, lines, 2)
	var first model.AuditLogEntry
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "r1", first.RequestID)
}

func TestExportCSV(t *testing.T) {
	up, in, body := captureUpload(t)
	e, err := NewExporter(entries(), up, "b", "", nullLogger())
	require.NoError(t, err)

	res, err := e.Export(context.Background(), july, august, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "audit-20250701T000000Z-20250801T000000Z.csv.gz", res.Key)
	assert.Equal(t, "text/csv", aws.ToString(in.ContentType))

	records, err := csv.NewReader(bytes.NewReader(gunzip(t, *body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "r2", records[2][1])
	assert.Equal(t, "NOT_FOUND", records[2][11])
}

func TestExportEmptyRangeStillWritesHeader(t *testing.T) {
	up, _, body := captureUpload(t)
	e, err := NewExporter(sliceSource{}, up, "b", "", nullLogger())
	require.NoError(t, err)

	res, err := e.Export(context.Background(), july, august, FormatCSV)
	require.NoError(t, err)
	assert.Zero(t, res.Entries)
	records, err := csv.NewReader(bytes.NewReader(gunzip(t, *body))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{csvHeader}, records)
}

func TestExportRejectsInvertedRange(t *testing.T) {
	e, err := NewExporter(entries(), &mockS3Client{}, "b", "", nullLogger())
	require.NoError(t, err)
	_, err = e.Export(context.Background(), august, july, FormatJSONL)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExportUploadError(t *testing.T) {
	boom := errors.New("access denied")
	up := &mockS3Client{putObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, boom
	}}
	e, err := NewExporter(entries(), up, "b", "", nullLogger())
	require.NoError(t, err)
	_, err = e.Export(context.Background(), july, august, FormatJSONL)
	assert.ErrorIs(t, err, boom)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	f, err = ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestNewExporterValidation(t *testing.T) {
	_, err := NewExporter(nil, &mockS3Client{}, "b", "", nullLogger())
	assert.Error(t, err)
	_, err = NewExporter(entries(), &mockS3Client{}, "", "", nullLogger())
	assert.Error(t, err)
}
