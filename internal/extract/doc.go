// Package extract unpacks downloaded zip archives and removes them once
// they were extracted successfully.
package extract
