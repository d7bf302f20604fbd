package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
)

// Wait budgets. Redelivery-driven scenarios need several visibility
// windows, so the ceiling is generous; passing runs never sleep this long.
const (
	waitTimeout = 20 * time.Second
	waitTick    = 50 * time.Millisecond
)

// PostJSON sends a POST to the admin API and decodes the JSON response.
func (app *TestApp) PostJSON(t *testing.T, path string, body any, wantStatus int) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(app.BaseURL+path, "application/json", &buf)
	require.NoError(t, err, "POST %s should not fail", path)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "POST %s status", path)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded), "POST %s response should be JSON", path)
	return decoded
}

// GetJSON sends a GET to the admin API and decodes the JSON response.
func (app *TestApp) GetJSON(t *testing.T, path string, wantStatus int) map[string]any {
	t.Helper()

	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err, "GET %s should not fail", path)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "GET %s status", path)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded), "GET %s response should be JSON", path)
	return decoded
}

// TriggerCollect fires a manual collection run and returns its run id.
func (app *TestApp) TriggerCollect(t *testing.T) string {
	t.Helper()
	resp := app.PostJSON(t, "/api/v1/collect", nil, http.StatusAccepted)
	runID, _ := resp["run_id"].(string)
	require.NotEmpty(t, runID, "collect trigger should return a run id")
	return runID
}

// TriggerPublish fires a manual site build and returns its batch id.
func (app *TestApp) TriggerPublish(t *testing.T) string {
	t.Helper()
	resp := app.PostJSON(t, "/api/v1/publish", nil, http.StatusAccepted)
	batchID, _ := resp["run_id"].(string)
	require.NotEmpty(t, batchID, "publish trigger should return a batch id")
	return batchID
}

// SendTopic enqueues one topic for the processor, bypassing the collector.
func (app *TestApp) SendTopic(t *testing.T, topic *pipeline.TopicPayload) {
	t.Helper()
	env, err := pipeline.NewEnvelope("collector", pipeline.OpProcessTopic, topic.CollectionID, topic)
	require.NoError(t, err)
	require.NoError(t, queue.SendEnvelope(context.Background(), app.Queue, config.QueueProcessing, env))
}

// SendBuildRequest enqueues one site build, bypassing the drain monitor.
func (app *TestApp) SendBuildRequest(t *testing.T, batchID string) {
	t.Helper()
	env, err := pipeline.NewEnvelope("renderer", pipeline.OpPublishSite, batchID, &pipeline.BuildPayload{
		BatchID: batchID,
		Trigger: "queue_drained",
	})
	require.NoError(t, err)
	require.NoError(t, queue.SendEnvelope(context.Background(), app.Queue, config.QueuePublishing, env))
}

// WaitForBlobs waits until container holds exactly n blobs under prefix and
// returns their names.
func (app *TestApp) WaitForBlobs(t *testing.T, container, prefix string, n int) []string {
	t.Helper()
	var names []string
	require.Eventually(t, func() bool {
		var err error
		names, err = app.Store.List(context.Background(), container, prefix)
		return err == nil && len(names) == n
	}, waitTimeout, waitTick,
		"expected %d blobs under %s/%s, have %v", n, container, prefix, names)
	return names
}

// WaitForQueueDeleted waits until the queue holds no messages at all,
// visible or in flight. This is the deletion-policy assertion: a message
// hidden inside its visibility window still counts.
func (app *TestApp) WaitForQueueDeleted(t *testing.T, queueName string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return app.Queue.Len(queueName) == 0
	}, waitTimeout, waitTick, "queue %s should be fully drained", queueName)
}

// WaitForBuilds waits until the stub generator ran exactly n times.
func (app *TestApp) WaitForBuilds(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return app.Builder.Builds() == n
	}, waitTimeout, waitTick, "expected %d site builds, have %d", n, app.Builder.Builds())
}

// LoadArticle fetches and decodes a processed article blob.
func (app *TestApp) LoadArticle(t *testing.T, name string) *models.ProcessedArticle {
	t.Helper()
	blob, err := app.Store.Get(context.Background(), config.ContainerProcessed, name)
	require.NoError(t, err, "article %s should exist", name)
	var article models.ProcessedArticle
	require.NoError(t, json.Unmarshal(blob.Data, &article))
	return &article
}

// LoadCollection fetches and decodes a collection audit blob.
func (app *TestApp) LoadCollection(t *testing.T, name string) *models.Collection {
	t.Helper()
	blob, err := app.Store.Get(context.Background(), config.ContainerCollected, name)
	require.NoError(t, err, "collection %s should exist", name)
	var coll models.Collection
	require.NoError(t, json.Unmarshal(blob.Data, &coll))
	return &coll
}

// BlobString fetches a blob and returns its content as a string.
func (app *TestApp) BlobString(t *testing.T, container, name string) string {
	t.Helper()
	blob, err := app.Store.Get(context.Background(), container, name)
	require.NoError(t, err, "blob %s/%s should exist", container, name)
	return string(blob.Data)
}

// fixtureTopic builds a topic payload the way collector fanout would.
func fixtureTopic(source, itemID, title string) *pipeline.TopicPayload {
	return &pipeline.TopicPayload{
		TopicID:        models.HashTopicID(source, itemID),
		Title:          title,
		Source:         source,
		URL:            fmt.Sprintf("https://%s.example.test/items/%s", source, itemID),
		Excerpt:        "A long discussion with many perspectives.",
		Score:          240,
		Comments:       85,
		CollectedAt:    time.Now().UTC(),
		PriorityScore:  0.8,
		CollectionID:   "col-" + itemID,
		CollectionBlob: "collections/2026/08/25/col-" + itemID + ".json",
	}
}
