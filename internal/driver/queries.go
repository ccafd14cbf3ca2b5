package driver

const (
	// SaveInspectionQuery upserts the inspection, attaches it to its line and
	// replaces its anomalies.
	SaveInspectionQuery = `
		MERGE (l:Line {name: $line_name})
		MERGE (i:Inspection {id: $id})
		SET i.file_name = $file_name,
			i.hash = $hash,
			i.status = $status,
			i.summary = $summary,
			i.safe_to_operate = $safe_to_operate,
			i.latitude = $latitude,
			i.longitude = $longitude,
			i.feedback = $feedback,
			i.created_at = $created_at,
			i.updated_at = $updated_at
		MERGE (l)-[:HAS_INSPECTION]->(i)
		WITH i
		OPTIONAL MATCH (i)-[:HAS_ANOMALY]->(old:Anomaly)
		DETACH DELETE old
		WITH DISTINCT i
		UNWIND $anomalies AS a
		CREATE (i)-[:HAS_ANOMALY]->(:Anomaly {
			type: a.type,
			description: a.description,
			severity: a.severity,
			location_hint: a.location_hint,
			bounding_box: a.bounding_box
		})
		RETURN count(*) AS anomalies
	`

	SetFeedbackQuery = `
		MATCH (i:Inspection {id: $id})
		SET i.feedback = $feedback,
			i.feedback_comments = $comments
		RETURN i.id AS id
	`

	DeleteInspectionQuery = `
		MATCH (i:Inspection {id: $id})
		OPTIONAL MATCH (i)-[:HAS_ANOMALY]->(a:Anomaly)
		DETACH DELETE i, a
	`

	ClearInspectionsQuery = `
		MATCH (n)
		WHERE n:Inspection OR n:Anomaly OR n:Line
		DETACH DELETE n
	`

	// LineSummaryQuery counts inspections and high/critical anomalies per line.
	LineSummaryQuery = `
		MATCH (l:Line)-[:HAS_INSPECTION]->(i:Inspection)
		OPTIONAL MATCH (i)-[:HAS_ANOMALY]->(a:Anomaly)
		WITH l, i, count(a) AS anomalies,
			sum(CASE WHEN a.severity IN ['high', 'critical'] THEN 1 ELSE 0 END) AS critical
		RETURN l.name AS line,
			count(i) AS inspections,
			sum(anomalies) AS anomalies,
			sum(critical) AS critical
		ORDER BY line
	`
)
