/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Demian Kellermann, Jonas Plum
 */

// Package imageimport extracts forensic artifacts from disk images,
// directories, partition zips and encrypted containers into a
// forensicstore.
//
// Processing
//
// Every partition of the input is processed on its own:
//     - The operating system is guessed from well known directories.
//     - For Windows a knowledge base is built: %SystemRoot%, the registry
//       hives and the users from the ProfileList.
//     - Every requested artifact is resolved against the knowledge base and
//       the results are written to the store.
//
// Partitions are labelled c, d, ... in the order they are found. Volume
// shadow copies are ignored. Encrypted volumes are unlocked with the
// credentials of a key list or interactively, and skipped if no credential
// fits.
package imageimport
