// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package search finds stored email messages similar to a free-text query.
//
// The query is embedded with the same embedder the ingestion consumer uses,
// matched against the vector index by cosine similarity, and the hits are
// resolved back to stored messages. Messages that contain every significant
// query word get a fixed verbatim boost on top of their similarity score.
package search
