package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultAddr = "http://localhost:8080/api"

func main() {
	var (
		file    = flag.String("file", "", "Path to the tariff PDF to upload")
		utility = flag.String("utility", "", "Utility name recorded on the document")
		addr    = flag.String("addr", defaultAddr, "Base URL of the ratescan API")
		timeout = flag.Duration("timeout", 2*time.Minute, "Upload request timeout")
	)
	flag.Parse()

	if *file == "" {
		fmt.Println("usage: ingest -file <tariff.pdf> [-utility NAME] [-addr URL]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	doc, err := upload(*addr, *file, *utility, *timeout)
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}

	fmt.Printf("document %s registered as %s; ingest queued\n", doc.Filename, doc.ID)
}

type document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

func upload(addr, path, utility string, timeout time.Duration) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if utility != "" {
		if err := form.WriteField("utility", utility); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, addr+"/documents", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &doc, nil
}
