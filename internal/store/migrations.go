package store

const (
	tableArticles = "article_info"
	tableStatuses = "article_status"
)

// Each dialect's schema is a list of single statements; the mysql driver
// rejects multi-statement Exec unless explicitly enabled.

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS article_info (
    url            TEXT PRIMARY KEY,
    link           TEXT NOT NULL DEFAULT '',
    section        TEXT NOT NULL DEFAULT '',
    subsection     TEXT NOT NULL DEFAULT '',
    title          TEXT NOT NULL,
    author         TEXT NOT NULL DEFAULT '',
    abstract       TEXT NOT NULL DEFAULT '',
    published_date DATETIME NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS article_status (
    url          TEXT NOT NULL REFERENCES article_info(url),
    title        TEXT NOT NULL,
    updated_date DATETIME NOT NULL,
    PRIMARY KEY (url, updated_date)
)`,
}

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS article_info (
    url            VARCHAR(64)  NOT NULL,
    link           VARCHAR(512) NOT NULL DEFAULT '',
    section        VARCHAR(64)  NOT NULL DEFAULT '',
    subsection     VARCHAR(64)  NOT NULL DEFAULT '',
    title          VARCHAR(512) NOT NULL,
    author         VARCHAR(255) NOT NULL DEFAULT '',
    abstract       TEXT         NOT NULL,
    published_date DATETIME     NOT NULL,
    PRIMARY KEY (url)
) ENGINE=InnoDB`, `
CREATE TABLE IF NOT EXISTS article_status (
    url          VARCHAR(64)  NOT NULL,
    title        VARCHAR(512) NOT NULL,
    updated_date DATETIME     NOT NULL,
    PRIMARY KEY (url, updated_date),
    FOREIGN KEY (url) REFERENCES article_info(url)
) ENGINE=InnoDB`,
}

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS article_info (
    url            VARCHAR(64) PRIMARY KEY,
    link           TEXT NOT NULL DEFAULT '',
    section        TEXT NOT NULL DEFAULT '',
    subsection     TEXT NOT NULL DEFAULT '',
    title          TEXT NOT NULL,
    author         TEXT NOT NULL DEFAULT '',
    abstract       TEXT NOT NULL DEFAULT '',
    published_date TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS article_status (
    url          VARCHAR(64) NOT NULL REFERENCES article_info(url),
    title        TEXT NOT NULL,
    updated_date TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (url, updated_date)
)`,
}
