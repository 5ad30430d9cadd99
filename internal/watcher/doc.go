// Package watcher reports debounced changes under a content root.
//
// Events from fsnotify are coalesced per path by a Debouncer and delivered
// in batches, so a burst of writes to one file becomes a single event:
//
//	w, err := watcher.New(root, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	go func() { _ = w.Run(ctx) }()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Path is slash separated and relative to root
//	    }
//	}
package watcher
