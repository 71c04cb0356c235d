// Package audit defines the job, report and artifact types shared by the
// pool, executor, scheduler and the HTTP surface.
package audit
