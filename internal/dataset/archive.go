// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package dataset

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Variant identifies a supported archive layout.
type Variant string

const (
	// VariantML100K is the ml-100k layout (u.data / u.item).
	VariantML100K Variant = "ml-100k"

	// VariantML1M is the ml-1m layout (ratings.dat / movies.dat).
	VariantML1M Variant = "ml-1m"
)

// DetectVariant inspects archive entry names and returns the dataset
// variant, or ErrUnsupportedDataset when neither layout matches.
func DetectVariant(r *zip.Reader) (Variant, error) {
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ml-1m/") {
			return VariantML1M, nil
		}
	}
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ml-100k/") {
			return VariantML100K, nil
		}
	}
	return "", ErrUnsupportedDataset
}

// ParseArchive parses ratings and movie metadata from a MovieLens archive.
// The returned interactions carry rating and timestamp only; labels, the
// genre join, and split boundaries are applied by Prepare.
func ParseArchive(r *zip.Reader) ([]Interaction, []Movie, Variant, error) {
	variant, err := DetectVariant(r)
	if err != nil {
		return nil, nil, "", err
	}

	switch variant {
	case VariantML1M:
		ratings, err := parseRatings(r, "ml-1m/ratings.dat", "::")
		if err != nil {
			return nil, nil, "", err
		}
		movies, err := parseMoviesML1M(r)
		if err != nil {
			return nil, nil, "", err
		}
		return ratings, movies, variant, nil

	default:
		ratings, err := parseRatings(r, "ml-100k/u.data", "\t")
		if err != nil {
			return nil, nil, "", err
		}
		movies, err := parseMoviesML100K(r)
		if err != nil {
			return nil, nil, "", err
		}
		return ratings, movies, variant, nil
	}
}

// openEntry opens a named archive entry.
func openEntry(r *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range r.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("archive entry %s not found: %w", name, ErrUnsupportedDataset)
}

// parseRatings parses a ratings file with the given field separator.
// Fields are userId, movieId, rating, timestamp in that order.
func parseRatings(r *zip.Reader, entry, sep string) ([]Interaction, error) {
	rc, err := openEntry(r, entry)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var rows []Interaction
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s line %d: expected 4 fields, got %d", entry, lineNo, len(fields))
		}
		userID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad userId %q: %w", entry, lineNo, fields[0], err)
		}
		movieID, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad movieId %q: %w", entry, lineNo, fields[1], err)
		}
		rating, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad rating %q: %w", entry, lineNo, fields[2], err)
		}
		ts, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp %q: %w", entry, lineNo, fields[3], err)
		}
		rows = append(rows, Interaction{
			UserID:    userID,
			MovieID:   movieID,
			Rating:    rating,
			Timestamp: ts,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry, err)
	}
	return rows, nil
}

// parseMoviesML100K parses u.item: movieId|title|release|video|imdb|19 flags.
// The file is latin-1 encoded; titles are transcoded to UTF-8. Genre flags
// failing to parse coerce to 0, matching the prepared-table contract that
// genre values are never missing.
func parseMoviesML100K(r *zip.Reader) ([]Movie, error) {
	rc, err := openEntry(r, "ml-100k/u.item")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var movies []Movie
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(latin1ToUTF8(scanner.Bytes()), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 5+NumGenres {
			return nil, fmt.Errorf("u.item line %d: expected %d fields, got %d", lineNo, 5+NumGenres, len(fields))
		}
		movieID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("u.item line %d: bad movieId %q: %w", lineNo, fields[0], err)
		}
		m := Movie{MovieID: movieID, Title: fields[1]}
		for i := 0; i < NumGenres; i++ {
			if v, err := strconv.Atoi(fields[5+i]); err == nil && v != 0 {
				m.Genres[i] = 1
			}
		}
		movies = append(movies, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading u.item: %w", err)
	}
	return movies, nil
}

// parseMoviesML1M parses movies.dat: MovieID::Title::Genres, where Genres
// is a pipe-separated list of genre names mapped onto the fixed 19-slot
// vector. Names outside the canonical list are ignored.
func parseMoviesML1M(r *zip.Reader) ([]Movie, error) {
	rc, err := openEntry(r, "ml-1m/movies.dat")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	slot := make(map[string]int, NumGenres)
	for i, name := range GenreNames {
		slot[name] = i
	}
	// ml-1m spells "Children's" without the apostrophe in some dumps.
	slot["Children"] = slot["Children's"]

	var movies []Movie
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(latin1ToUTF8(scanner.Bytes()), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "::")
		if len(fields) < 3 {
			return nil, fmt.Errorf("movies.dat line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		movieID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("movies.dat line %d: bad movieId %q: %w", lineNo, fields[0], err)
		}
		m := Movie{MovieID: movieID, Title: fields[1]}
		for _, name := range strings.Split(fields[2], "|") {
			if i, ok := slot[name]; ok {
				m.Genres[i] = 1
			}
		}
		movies = append(movies, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading movies.dat: %w", err)
	}
	return movies, nil
}

// latin1ToUTF8 transcodes an ISO 8859-1 byte slice to a UTF-8 string.
// Every latin-1 byte maps directly to the code point of the same value.
func latin1ToUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
