package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/ble/ota"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/store"
)

type fakeFirmwareClient struct {
	listeners []func(device.OTAResult)
	result    device.OTAResult
	err       error
}

func (f *fakeFirmwareClient) OnOTA(fn func(device.OTAResult)) {
	f.listeners = append(f.listeners, fn)
}

func (f *fakeFirmwareClient) UploadFirmware(_ context.Context, _ []byte, onProgress func(int)) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	onProgress(100)
	for _, fn := range f.listeners {
		fn(f.result)
	}
	return f.result.Success(), nil
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(db))
	return db
}

func TestOTARecorderRecordsUpload(t *testing.T) {
	db := openTestStore(t)
	client := &fakeFirmwareClient{result: device.OTAResult{Status: "success", Message: "Update complete"}}
	rec := newOTARecorder(client, db, func() string { return "AA:BB" })
	image := []byte("firmware image")

	var progress []int
	ok, err := rec.UploadFirmware(context.Background(), "fw.bin", image, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{100}, progress)

	uploads, err := db.RecentOTA(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	u := uploads[0]
	assert.Equal(t, "AA:BB", u.Device)
	assert.Equal(t, "fw.bin", u.ImageName)
	assert.Equal(t, len(image), u.SizeBytes)
	assert.Equal(t, ota.Fingerprint(image), u.Fingerprint)
	assert.True(t, u.Success)
	assert.Equal(t, "success", u.Status)
	assert.Equal(t, "Update complete", u.Message)
	assert.Empty(t, u.Error)
}

func TestOTARecorderRecordsFailure(t *testing.T) {
	db := openTestStore(t)
	client := &fakeFirmwareClient{err: ble.ErrNotConnected}
	rec := newOTARecorder(client, db, func() string { return "" })

	ok, err := rec.UploadFirmware(context.Background(), "fw.bin", []byte{1}, func(int) {})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ble.ErrNotConnected))

	uploads, err := db.RecentOTA(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.False(t, uploads[0].Success)
	assert.Equal(t, ble.ErrNotConnected.Error(), uploads[0].Error)
	assert.Empty(t, uploads[0].Status)
}

func TestOTARecorderClearsPreviousResult(t *testing.T) {
	db := openTestStore(t)
	client := &fakeFirmwareClient{result: device.OTAResult{Status: "success", Message: "ok"}}
	rec := newOTARecorder(client, db, func() string { return "AA:BB" })

	_, err := rec.UploadFirmware(context.Background(), "first.bin", []byte{1}, func(int) {})
	require.NoError(t, err)

	client.err = errors.New("link lost")
	_, err = rec.UploadFirmware(context.Background(), "second.bin", []byte{2}, func(int) {})
	require.Error(t, err)

	uploads, err := db.RecentOTA(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	for _, u := range uploads {
		if u.ImageName == "second.bin" {
			assert.Empty(t, u.Status, "status from the first upload leaked into the second")
			assert.Equal(t, "link lost", u.Error)
		}
	}
}
