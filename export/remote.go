package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

const (
	contentType             = "application/json"
	CollectEndpoint         = "phenocart/v1/collect"
	defaultSendRecordAmount = 100
)

// CollectResponse is the body the collector answers a batch with.
type CollectResponse struct {
	Status      string `json:"status"`
	RecordCount int    `json:"recordCount"`
}

// Remote sends records in JSON batches to a collector server.
type Remote struct {
	Server            string
	SendRecordsAmount int
	// Client defaults to http.DefaultClient.
	Client  *http.Client
	Metrics *metrics.Collector
}

func (s *Remote) Write(ctx context.Context, records <-chan sensor.Record) error {
	sendRecordsAmount := defaultSendRecordAmount
	if s.SendRecordsAmount > 0 {
		sendRecordsAmount = s.SendRecordsAmount
	}

	var recordsToSend []sensor.Record
	for r := range records {
		recordsToSend = append(recordsToSend, r)
		if len(recordsToSend) < sendRecordsAmount {
			continue // we haven't collected enough records to send yet
		}
		s.send(ctx, recordsToSend)
		recordsToSend = nil
	}
	// Whatever is left when the loop stops.
	s.send(ctx, recordsToSend)

	return nil
}

func (s *Remote) send(ctx context.Context, batch []sensor.Record) {
	if len(batch) == 0 {
		return
	}
	err := s.post(context.WithoutCancel(ctx), batch)
	for range batch {
		s.Metrics.Export("remote", err == nil)
	}
	if err != nil {
		glog.Warningf("error submitting %d records to %s: %s\n", len(batch), s.Server, err)
	}
}

func (s *Remote) post(ctx context.Context, batch []sensor.Record) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("error marshalling records to JSON: %w", err)
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), CollectEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error POSTing records: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading POST body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector answered %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	collectResponseBody := CollectResponse{}
	if err := json.Unmarshal(respBody, &collectResponseBody); err != nil {
		return fmt.Errorf("unable to decode collector response: %w", err)
	}
	glog.Infof("submitted %v records to server %s", collectResponseBody.RecordCount, s.Server)
	return nil
}
