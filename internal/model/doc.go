// Package model defines the core data structures shared by the harvest packages.
//
// This package contains the following main types:
//   - URLSet: a set of normalized URLs used as map keys and set members
//   - Outcome: the classified result of one attempt to fetch a document
//   - Summary: the aggregated view of a batch of outcomes
//   - Run: the state carried through a harvest pipeline for one seed
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The crawler, downloader, pipeline and report packages all use
// these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for report output and
// database storage.
package model
