package postgres

const jobColumns = `
    id, format, status, generation_cost, render_cost,
    retry_count, youtube_id, error_message, created_at, updated_at`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM jobs
WHERE id = $1
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM jobs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryInsertJob = `
INSERT INTO jobs (id, format, status, generation_cost, render_cost, retry_count, youtube_id, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryCountJobsCreatedOn = `
SELECT COUNT(*)
FROM jobs
WHERE created_at >= $1
  AND created_at < $1 + INTERVAL '1 day'
  AND ($2::bool = false OR status <> 'failed')
`

const queryTransitionJob = `
UPDATE jobs
SET status = $1, updated_at = NOW()
WHERE id = $2
  AND status = $3
`

const queryGetJobStatus = `
SELECT status FROM jobs WHERE id = $1
`

const queryCompleteJob = `
UPDATE jobs
SET status = 'completed', youtube_id = $1, updated_at = NOW()
WHERE id = $2
  AND status = 'uploading'
`

const queryFailJob = `
UPDATE jobs
SET status = 'failed', error_message = $1, updated_at = NOW()
WHERE id = $2
  AND status IN ('pending', 'generating', 'rendering', 'uploading')
`

const queryRejectJob = `
UPDATE jobs
SET status = 'rejected', error_message = $1, updated_at = NOW()
WHERE id = $2
  AND status = 'generating'
`

const queryRequeueJob = `
UPDATE jobs
SET status = 'pending', retry_count = retry_count + 1, error_message = '', updated_at = NOW()
WHERE id = $1
  AND status IN ('generating', 'rendering', 'uploading')
`

const queryGetStalePendingJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE status = 'pending'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryGetStaleActiveJobs = `
SELECT` + jobColumns + `
FROM jobs
WHERE status IN ('generating', 'rendering', 'uploading')
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`

const queryListWeights = `
SELECT format, weight, last_updated, reason
FROM format_weights
ORDER BY format
`

const queryUpsertWeight = `
INSERT INTO format_weights (format, weight, last_updated, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (format) DO UPDATE SET
    weight = EXCLUDED.weight,
    last_updated = EXCLUDED.last_updated,
    reason = EXCLUDED.reason
`

const querySeedWeight = `
INSERT INTO format_weights (format, weight, last_updated, reason)
VALUES ($1, $2, $3, $4)
ON CONFLICT (format) DO NOTHING
`

const queryGetDayCosts = `
SELECT date, generation_cost, total_cost, video_count
FROM cost_tracking
WHERE date = $1
`

const queryIncrementDayCosts = `
INSERT INTO cost_tracking (date, generation_cost, total_cost, video_count)
VALUES ($1, $2, $2, 1)
ON CONFLICT (date) DO UPDATE SET
    generation_cost = cost_tracking.generation_cost + EXCLUDED.generation_cost,
    total_cost = cost_tracking.total_cost + EXCLUDED.total_cost,
    video_count = cost_tracking.video_count + 1
`

const queryInsertVideoMetric = `
INSERT INTO video_metrics (id, job_id, views, view_pct, recorded_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryGetFormatPerformance = `
SELECT j.format, COUNT(*), COALESCE(AVG(m.view_pct), 0), COALESCE(AVG(m.views), 0)
FROM video_metrics m
JOIN jobs j ON m.job_id = j.id
GROUP BY j.format
`

const queryGetConfigValue = `
SELECT value FROM config WHERE key = $1
`

const queryUpsertConfigValue = `
INSERT INTO config (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`
