// Package epaper holds the domain types and the collaborator interfaces shared by
// the sync pipeline, the site drivers and the persistence adapters.
package epaper
