package main

/*
epa-ng places query sequences onto a fixed reference phylogenetic tree by
maximum-likelihood evolutionary placement, emitting results as JPlace v3.
*/
