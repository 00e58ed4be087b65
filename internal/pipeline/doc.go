// Package pipeline runs the stages of a harvest for one or more seeds.
//
// A seed goes through up to three steps, each adding to the same
// model.Run: CrawlStep walks the site and selects document URLs,
// DownloadStep fetches the selected documents, and HistoryStep stores the
// finished run in the history database. In a dry run the download step
// returns at once; without a database there is no history step.
//
// HistoryStep is a Finalizer: it still runs when the crawl failed or the
// harvest timed out, so that failed and partial runs show up in the
// history too.
//
// BatchProcessor harvests several seeds at once on top of errgroup, with
// one freshly built pipeline per seed.
package pipeline
