package filesystem

// TemporaryNamePrefix is the file name prefix used for any temporary file or
// directory created for internal purposes. Using a single well-known prefix
// makes it easy to identify and clean up stray files left behind by
// interrupted atomic writes.
const TemporaryNamePrefix = ".fswatch-temp-"
