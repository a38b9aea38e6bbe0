package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/ble/ota"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/firmware"
	"github.com/chaz8081/blecfg/internal/render"
	"github.com/chaz8081/blecfg/internal/store"
)

const progressWidth = 30

// firmwareClient is the part of ble.Client an upload needs.
type firmwareClient interface {
	UploadFirmware(ctx context.Context, image []byte, onProgress func(int)) (bool, error)
	OnOTA(fn func(device.OTAResult))
}

// otaRecorder runs uploads and records every attempt in the history store.
type otaRecorder struct {
	client  firmwareClient
	db      *store.DB
	address func() string

	mu   sync.Mutex
	last device.OTAResult
}

func newOTARecorder(client firmwareClient, db *store.DB, address func() string) *otaRecorder {
	r := &otaRecorder{client: client, db: db, address: address}
	client.OnOTA(func(res device.OTAResult) {
		r.mu.Lock()
		r.last = res
		r.mu.Unlock()
	})
	return r
}

// UploadFirmware uploads image and stores the outcome. It satisfies
// bridge.Uploader.
func (r *otaRecorder) UploadFirmware(ctx context.Context, name string, image []byte, onProgress func(int)) (bool, error) {
	_, ok, err := r.upload(ctx, name, image, onProgress)
	return ok, err
}

func (r *otaRecorder) upload(ctx context.Context, name string, image []byte, onProgress func(int)) (store.Upload, bool, error) {
	r.mu.Lock()
	r.last = device.OTAResult{}
	r.mu.Unlock()

	rec := store.Upload{
		Device:      r.address(),
		ImageName:   name,
		SizeBytes:   len(image),
		Fingerprint: ota.Fingerprint(image),
		StartedAt:   time.Now(),
	}
	slog.Info("[OTA] uploading", "image", rec.ImageName, "size", rec.SizeBytes, "fingerprint", rec.Fingerprint)

	ok, err := r.client.UploadFirmware(ctx, image, onProgress)

	r.mu.Lock()
	rec.Status = r.last.Status
	rec.Message = r.last.Message
	r.mu.Unlock()
	rec.FinishedAt = time.Now()
	rec.Success = ok
	if err != nil {
		rec.Error = err.Error()
	}
	if _, rerr := r.db.RecordOTA(context.WithoutCancel(ctx), rec); rerr != nil {
		slog.Warn("recording upload failed", "error", rerr)
	}
	return rec, ok, err
}

func newOTACmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ota FILE|URL",
		Short: "Upload a firmware image and record the attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := firmware.Load(cmd.Context(), args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := a.newPeripheral()
			if err != nil {
				return err
			}
			recorder := newOTARecorder(p.client, db, func() string {
				dev, _ := p.client.Session().Device()
				return dev.Address
			})

			if _, err := a.connect(cmd.Context(), p); err != nil {
				return err
			}
			defer disconnect(p.client)

			out := cmd.OutOrStdout()
			rec, ok, err := recorder.upload(cmd.Context(), img.Name, img.Data, func(pct int) {
				fmt.Fprintf(out, "\r%s", render.Progress(pct, progressWidth))
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ota: device rejected image: %s %s", rec.Status, rec.Message)
			}
			fmt.Fprintf(out, "Upload complete in %s: %s\n", render.Duration(rec.FinishedAt.Sub(rec.StartedAt)), rec.Message)
			return nil
		},
	}
}
