// Package pipeline composes sanitizing, deduplication, archiving, extraction
// and table writing into the ingest, stage, load and backfill steps that the
// orchestration layer triggers.
//
// Alerts:        fetch/ingest -> raw/ipaws/alerts/...zip -> stage -> stage/ipaws/alerts/y/m/d/*.csv -> load
// Notifications: ingest -> raw/ipaws/notifications/...zip -> stage -> stage/ipaws/notifications/... -> load
package pipeline
