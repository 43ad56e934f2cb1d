// Package embed defines the embedding producers consumed by the indexer and
// query engine.
//
// Two producer shapes exist: TextProducer maps text to unit vectors in the
// text embedding space, and VisualProducer maps images and text into one
// shared visual space. The two spaces have different dimensions and are
// never comparable across each other.
//
// Real deployments use the remote HTTP provider; tests and offline runs use
// the deterministic stub producers, which map inputs to reproducible but
// semantically meaningless unit vectors.
package embed
