// Package partitioner splits a set of embedding vectors into a fixed number
// of groups with k-means.
//
// Clustering uses k-means++ seeding from a fixed seed followed by Lloyd's
// iterations, so identical input always yields identical labels. Unlike
// most k-means implementations it guarantees that every requested label is
// used: an empty cluster takes over the point farthest from its centroid.
//
// Callers reduce the branching factor before asking for clusters:
//
//	k := partitioner.Reduce(vectors, 3)
//	labels, err := partitioner.New().Partition(ctx, vectors, k)
//
// Asking for more clusters than there are distinct vectors returns an
// *types.InsufficientDataError.
package partitioner
