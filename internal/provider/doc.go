// Package provider lists and downloads the objects of a cloud storage bucket.
//
// Each supported provider is a [Module] in the [Registry]. A module is
// selected by its code (for example "ali" or "gcs") and turns a bucket URL
// into an [Adapter]:
//
//	reg := provider.DefaultRegistry()
//	target := provider.Target{URL: "https://bucket.oss-cn-hangzhou.aliyuncs.com", Module: "ali"}
//	if err := reg.ValidateTarget(target); err != nil {
//	    return err
//	}
//	a, err := reg.New(ctx, target, provider.Deps{HTTP: client})
//	objects, err := a.List(ctx, "")
//
// # Pagination
//
// Listing requests are issued one page at a time. A listing stops when the
// provider reports no further cursor, when a page adds no new entries, when
// the cursor repeats, or after Deps.MaxPages pages. Entries without a key or
// with an unparsable size are logged and skipped.
//
// On a failed page List returns the objects gathered so far together with
// the error, so callers can still download what was found.
package provider
