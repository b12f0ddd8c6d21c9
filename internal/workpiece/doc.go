// Package workpiece holds the workpiece domain: the stored shape and glue
// parameters of each known part, SQLite persistence, and the geometric
// matcher that pairs detected contours with known workpieces.
package workpiece
